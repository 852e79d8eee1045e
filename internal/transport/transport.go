// Package transport defines the interface for outbound mail delivery backends.
package transport

import (
	"context"

	"github.com/shineum/mail-relay/internal/email"
)

// Transport delivers messages to a mail provider. A single Transport is built
// at start-up and shared by every request, so implementations must be safe
// for concurrent use and must not mutate their configuration after construction.
type Transport interface {
	// Send delivers msg and returns the identifier assigned to it.
	Send(ctx context.Context, msg *email.Message) (string, error)

	// Verify checks that the provider is reachable and the credentials are
	// accepted. It does not send anything.
	Verify(ctx context.Context) error

	// Name returns the human-readable name of this transport.
	Name() string
}
