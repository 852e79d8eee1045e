// Package stdout implements a Transport that prints messages instead of
// delivering them. It is meant for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mail-relay/internal/email"
)

// Transport prints email messages to a writer in a human-readable format.
type Transport struct {
	// mu serializes writes so concurrent sends do not interleave.
	mu     sync.Mutex
	writer io.Writer
}

// New creates a stdout Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to w.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Send prints the message and returns a freshly generated message ID.
func (t *Transport) Send(_ context.Context, msg *email.Message) (string, error) {
	id := msg.MessageID
	if id == "" {
		id = email.NewMessageID(msg.From)
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.Recipients(), ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	b.WriteString(body + "\n")

	if msg.HTML != "" {
		fmt.Fprintf(&b, "HTML: %s\n", formatSize(len(msg.HTML)))
	}

	b.WriteString("========================================\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}

	return id, nil
}

// Verify always succeeds.
func (t *Transport) Verify(_ context.Context) error {
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
