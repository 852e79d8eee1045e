// Package smtptest provides an in-process SMTP server that records every
// message it accepts, for exercising SMTP clients in tests.
package smtptest

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/mail"
	"sync"
	"testing"
	"time"
)

// Message is a message accepted by the Server, with both the SMTP envelope
// and the parsed content.
type Message struct {
	EnvelopeFrom string
	EnvelopeTo   []string

	Header    mail.Header
	From      string
	To        []string
	Subject   string
	MessageID string
	TextBody  string
	HTMLBody  string

	Raw []byte
}

// Option configures a Server.
type Option func(*Server)

// WithAuth requires clients to authenticate with the given credentials
// before MAIL FROM. AUTH PLAIN and AUTH LOGIN are offered.
func WithAuth(username, password string) Option {
	return func(s *Server) {
		s.auth = newAuthenticator(username, password)
	}
}

// WithTLS advertises STARTTLS using cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// WithDataReply makes the server answer the end of DATA with reply instead
// of accepting the message, e.g. "554 5.7.1 Message rejected".
func WithDataReply(reply string) Option {
	return func(s *Server) {
		s.dataReply = reply
	}
}

// Server is a minimal ESMTP server listening on a loopback port.
type Server struct {
	listener  net.Listener
	hostname  string
	auth      *authenticator
	tlsConfig *tls.Config
	dataReply string

	mu       sync.Mutex
	messages []*Message
	conns    map[net.Conn]struct{}
	closed   bool
	done     chan struct{}

	// wg tracks the accept loop and session goroutines.
	wg sync.WaitGroup
}

// NewServer starts a Server on 127.0.0.1 and registers Close with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: failed to listen: %v", err)
	}

	s := newServer(ln, opts...)
	t.Cleanup(s.Close)
	return s
}

func newServer(ln net.Listener, opts ...Option) *Server {
	s := &Server{
		listener: ln,
		hostname: "smtptest.local",
		auth:     newAuthenticator("", ""),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()
	return s
}

// Host returns the listener IP address.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listener port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the listener address in host:port form.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Messages returns the messages accepted so far, oldest first.
func (s *Server) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Close stops accepting connections, drops open sessions and waits for
// all goroutines to exit. It is safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			delay = acceptBackoff(delay)
			slog.Debug("smtptest: accept error", "error", err, "retry_in", delay)
			select {
			case <-s.done:
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newSession(conn, s).handle()
		}()
	}
}

// acceptBackoff doubles the wait after each consecutive accept failure,
// from 5ms up to one second.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(2*prev, time.Second)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) record(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}
