// Package smtp implements a Transport that delivers email to an SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	mail "gopkg.in/mail.v2"

	"github.com/shineum/mail-relay/internal/email"
)

// defaultTimeout bounds dialing and each SMTP command.
const defaultTimeout = 30 * time.Second

// Config holds the configuration for creating a Transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// InsecureSkipVerify disables certificate verification for implicit TLS
	// and STARTTLS. Only meant for local relays with self-signed certificates.
	InsecureSkipVerify bool

	// LocalName is the hostname sent in EHLO. Defaults to "localhost".
	LocalName string

	// Timeout defaults to 30 seconds.
	Timeout time.Duration
}

// dialer is the subset of *mail.Dialer used by Transport.
type dialer interface {
	Dial() (mail.SendCloser, error)
	DialAndSend(m ...*mail.Message) error
}

// Transport sends each message over a fresh SMTP connection built from a
// shared, read-only dialer. Port 465 uses implicit TLS; other ports upgrade
// with STARTTLS when the server offers it.
type Transport struct {
	dialer dialer
	addr   string
}

// New creates a Transport. Authentication is resolved here rather than on
// first dial so the dialer is never written to while requests share it.
func New(cfg Config) *Transport {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	d.Timeout = cfg.Timeout
	if d.Timeout == 0 {
		d.Timeout = defaultTimeout
	}
	if cfg.LocalName != "" {
		d.LocalName = cfg.LocalName
	}
	if cfg.Username != "" {
		d.Auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &Transport{
		dialer: d,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

// Send delivers msg and returns its Message-ID header value.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if msg.MessageID == "" {
		msg.MessageID = email.NewMessageID(msg.From)
	}

	if err := t.dialer.DialAndSend(buildMessage(msg)); err != nil {
		return "", fmt.Errorf("smtp send via %s failed: %w", t.addr, err)
	}
	return msg.MessageID, nil
}

// Verify opens a connection, performs the handshake and authentication,
// and closes it again.
func (t *Transport) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := t.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp connect to %s failed: %w", t.addr, err)
	}
	return conn.Close()
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

// buildMessage converts msg into a MIME message. The plain-text part is
// always present; an HTML body is added as an alternative.
func buildMessage(msg *email.Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.Recipients()...)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", msg.MessageID)
	m.SetDateHeader("Date", time.Now())

	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}
