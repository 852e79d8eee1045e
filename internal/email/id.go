package email

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// NewMessageID returns an RFC 5322 Message-ID of the form <uuid@domain>,
// where domain is taken from the sender address. Unparseable senders fall
// back to localhost.
func NewMessageID(from string) string {
	return "<" + uuid.NewString() + "@" + senderDomain(from) + ">"
}

func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return "localhost"
	}
	return addr[at+1:]
}
