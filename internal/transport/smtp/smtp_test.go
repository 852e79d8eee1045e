package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/mail-relay/internal/email"
	"github.com/shineum/mail-relay/internal/smtptest"
	relaytls "github.com/shineum/mail-relay/internal/tls"
	"github.com/shineum/mail-relay/internal/transport"
)

var _ transport.Transport = (*Transport)(nil)

func newTransport(s *smtptest.Server, opts ...func(*Config)) *Transport {
	cfg := Config{
		Host:    s.Host(),
		Port:    s.Port(),
		Timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func withCredentials(user, pass string) func(*Config) {
	return func(c *Config) {
		c.Username = user
		c.Password = pass
	}
}

func testMessage() *email.Message {
	msg := &email.Message{
		From:    "sender@example.com",
		To:      "alice@example.com",
		Subject: "Hello",
		HTML:    "<h1>Hi</h1><p>there</p>",
	}
	msg.Normalize("")
	return msg
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New(Config{Host: "localhost", Port: 25}).Name(); got != "smtp" {
		t.Errorf("Name(): got %q, want %q", got, "smtp")
	}
}

func TestSend_HTMLWithDerivedText(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	id, err := tr.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(id, "@example.com>") {
		t.Errorf("message ID: got %q, want <...@example.com>", id)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	got := msgs[0]

	if got.EnvelopeFrom != "sender@example.com" {
		t.Errorf("EnvelopeFrom: got %q", got.EnvelopeFrom)
	}
	if len(got.EnvelopeTo) != 1 || got.EnvelopeTo[0] != "alice@example.com" {
		t.Errorf("EnvelopeTo: got %v", got.EnvelopeTo)
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject: got %q, want %q", got.Subject, "Hello")
	}
	if got.MessageID != id {
		t.Errorf("Message-ID header: got %q, want %q", got.MessageID, id)
	}
	if got.Header.Get("Date") == "" {
		t.Error("Date header missing")
	}
	if body := strings.TrimSpace(got.TextBody); body != "Hithere" {
		t.Errorf("TextBody: got %q, want %q", body, "Hithere")
	}
	if body := strings.TrimSpace(got.HTMLBody); body != "<h1>Hi</h1><p>there</p>" {
		t.Errorf("HTMLBody: got %q", body)
	}
}

func TestSend_TextOnly(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := &email.Message{From: "sender@example.com", To: "alice@example.com", Subject: "Plain", Text: "just text"}
	if _, err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Messages()[0]
	if body := strings.TrimSpace(got.TextBody); body != "just text" {
		t.Errorf("TextBody: got %q, want %q", body, "just text")
	}
	if got.HTMLBody != "" {
		t.Errorf("HTMLBody: got %q, want empty", got.HTMLBody)
	}
}

func TestSend_EmptyBody(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := &email.Message{From: "sender@example.com", To: "alice@example.com", Subject: "Empty"}
	if _, err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(s.Messages()); got != 1 {
		t.Fatalf("messages: got %d, want 1", got)
	}
	if body := strings.TrimSpace(s.Messages()[0].TextBody); body != "" {
		t.Errorf("TextBody: got %q, want empty", body)
	}
}

func TestSend_MultipleRecipients(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := testMessage()
	msg.To = "alice@example.com, bob@example.com"
	if _, err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := s.Messages()[0]
	if len(got.EnvelopeTo) != 2 || got.EnvelopeTo[1] != "bob@example.com" {
		t.Errorf("EnvelopeTo: got %v", got.EnvelopeTo)
	}
	if len(got.To) != 2 {
		t.Errorf("To header: got %v", got.To)
	}
}

func TestSend_QuotedDisplayNameWithComma(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := testMessage()
	msg.To = `"Doe, John" <john@example.com>, jane@example.com`
	if _, err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	got := msgs[0].EnvelopeTo
	if len(got) != 2 || got[0] != "john@example.com" || got[1] != "jane@example.com" {
		t.Errorf("EnvelopeTo: got %v, want [john@example.com jane@example.com]", got)
	}
}

func TestSend_KeepsAssignedMessageID(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := testMessage()
	msg.MessageID = "<assigned@example.com>"
	id, err := tr.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "<assigned@example.com>" {
		t.Errorf("message ID: got %q", id)
	}
	if got := s.Messages()[0].MessageID; got != id {
		t.Errorf("Message-ID header: got %q, want %q", got, id)
	}
}

func TestSend_WithAuth(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t, smtptest.WithAuth("user", "secret"))
	tr := newTransport(s, withCredentials("user", "secret"))

	if _, err := tr.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(s.Messages()); got != 1 {
		t.Errorf("messages: got %d, want 1", got)
	}
}

func TestSend_AuthFailure(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t, smtptest.WithAuth("user", "secret"))
	tr := newTransport(s, withCredentials("user", "wrong"))

	_, err := tr.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Authentication failed") {
		t.Errorf("error should carry the server reply, got %q", err.Error())
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("messages: got %d, want 0", got)
	}
}

func TestSend_Rejected(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t, smtptest.WithDataReply("554 5.7.1 Message rejected as spam"))
	tr := newTransport(s)

	_, err := tr.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Message rejected as spam") {
		t.Errorf("error should carry the server reply, got %q", err.Error())
	}
}

func TestSend_InvalidSender(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	msg := testMessage()
	msg.From = "not an address"
	if _, err := tr.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error for malformed sender, got nil")
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("messages: got %d, want 0", got)
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := New(Config{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second})

	_, err = tr.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("127.0.0.1:%d", port)) {
		t.Errorf("error should name the server address, got %q", err.Error())
	}
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t)
	tr := newTransport(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.Send(ctx, testMessage()); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
	if got := len(s.Messages()); got != 0 {
		t.Errorf("messages: got %d, want 0", got)
	}
}

func TestSend_STARTTLS(t *testing.T) {
	t.Parallel()

	cert, err := relaytls.GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("failed to generate cert: %v", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{*cert}, MinVersion: tls.VersionTLS12}

	t.Run("trusted", func(t *testing.T) {
		t.Parallel()

		s := smtptest.NewServer(t, smtptest.WithTLS(tlsConfig))
		tr := newTransport(s, func(c *Config) { c.InsecureSkipVerify = true })

		if _, err := tr.Send(context.Background(), testMessage()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(s.Messages()); got != 1 {
			t.Errorf("messages: got %d, want 1", got)
		}
	})

	t.Run("unknown authority", func(t *testing.T) {
		t.Parallel()

		s := smtptest.NewServer(t, smtptest.WithTLS(tlsConfig))
		tr := newTransport(s)

		if _, err := tr.Send(context.Background(), testMessage()); err == nil {
			t.Fatal("expected certificate verification error, got nil")
		}
		if got := len(s.Messages()); got != 0 {
			t.Errorf("messages: got %d, want 0", got)
		}
	})
}

func TestSend_Concurrent(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t, smtptest.WithAuth("user", "secret"))
	tr := newTransport(s, withCredentials("user", "secret"))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := testMessage()
			msg.Subject = fmt.Sprintf("message %d", i)
			if _, err := tr.Send(context.Background(), msg); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent send failed: %v", err)
	}
	if got := len(s.Messages()); got != n {
		t.Errorf("messages: got %d, want %d", got, n)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		s := smtptest.NewServer(t, smtptest.WithAuth("user", "secret"))
		if err := newTransport(s, withCredentials("user", "secret")).Verify(context.Background()); err != nil {
			t.Errorf("Verify(): unexpected error: %v", err)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		t.Parallel()
		s := smtptest.NewServer(t, smtptest.WithAuth("user", "secret"))
		err := newTransport(s, withCredentials("user", "wrong")).Verify(context.Background())
		if err == nil {
			t.Fatal("Verify(): expected error, got nil")
		}
		if !strings.Contains(err.Error(), "Authentication failed") {
			t.Errorf("error should carry the server reply, got %q", err.Error())
		}
	})
}
