// Package email defines the message model accepted by the relay and the
// normalization applied before a message is handed to a transport.
package email

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrMissingFields is returned by Validate when a required field is empty.
var ErrMissingFields = errors.New("missing required fields: to and subject are required")

// Message represents a single send request. It lives for exactly one request.
type Message struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`

	// MessageID is assigned by the relay before delivery and is never read
	// from the request body.
	MessageID string `json:"-"`
}

// Validate checks that to and subject are present. Their content is not
// inspected; malformed addresses are left for the transport to reject.
func (m *Message) Validate() error {
	if m.To == "" || m.Subject == "" {
		return ErrMissingFields
	}
	return nil
}

// Normalize fills in the sender and plain-text body. The sender falls back to
// defaultFrom, and the text body is derived from the HTML body when absent.
func (m *Message) Normalize(defaultFrom string) {
	if m.From == "" {
		m.From = defaultFrom
	}
	if m.Text == "" && m.HTML != "" {
		m.Text = PlainText(m.HTML)
	}
}

// Recipients returns the addresses in the To field. An RFC 5322 address
// list is reduced to its bare addresses, so quoted display names may contain
// commas. Anything else is split on commas with empty entries dropped.
func (m *Message) Recipients() []string {
	if list, err := mail.ParseAddressList(m.To); err == nil {
		result := make([]string, 0, len(list))
		for _, addr := range list {
			result = append(result, addr.Address)
		}
		return result
	}

	parts := strings.Split(m.To, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
