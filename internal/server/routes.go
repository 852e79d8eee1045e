package server

func (s *Server) registerRoutes() {
	r := s.router

	r.Get("/health", s.handleHealth)
	r.Post("/api/send-email", s.handleSendEmail)
}
