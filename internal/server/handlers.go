package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shineum/mail-relay/internal/email"
)

const (
	msgHealthy          = "Email service is running"
	msgSent             = "Email sent successfully"
	msgMissingFields    = "Missing required fields: to and subject are required"
	msgInvalidBody      = "Invalid request body"
	msgSendFailedNoText = "Failed to send email"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Message: msgHealthy})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var msg email.Message

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Warn("rejected send request", "reason", "invalid body", "error", err)
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: msgInvalidBody})
		return
	}

	if err := msg.Validate(); err != nil {
		if errors.Is(err, email.ErrMissingFields) {
			writeJSON(w, http.StatusBadRequest, sendResponse{Error: msgMissingFields})
			return
		}
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: err.Error()})
		return
	}

	msg.Normalize(s.config.DefaultFrom)
	msg.MessageID = email.NewMessageID(msg.From)

	id, err := s.config.Transport.Send(r.Context(), &msg)
	if err != nil {
		slog.Error("failed to send email",
			"transport", s.config.Transport.Name(),
			"to", msg.To,
			"subject", msg.Subject,
			"error", err,
		)
		text := err.Error()
		if text == "" {
			text = msgSendFailedNoText
		}
		writeJSON(w, http.StatusInternalServerError, sendResponse{Error: text})
		return
	}

	slog.Info("email sent",
		"transport", s.config.Transport.Name(),
		"message_id", id,
		"to", msg.Recipients(),
		"subject", msg.Subject,
	)
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id, Message: msgSent})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
