// Package transport provides the length-prefixed framing MessageRouter
// sends encoded envelopes over (spec.md §6). Two concrete transports are
// provided: TCP, for node-to-node traffic, and Unix sockets, for local
// CLI-to-daemon traffic.
package transport

import (
	"context"
	"time"
)

// Handler processes one inbound frame and returns the reply frame to
// write back on the same connection.
type Handler func(ctx context.Context, peerAddr string, frame []byte) ([]byte, error)

// Transport is the collaborator MessageRouter issues requests through
// and the daemon accepts inbound connections on (spec.md §6).
type Transport interface {
	// SendRequest delivers frame to peerAddr and returns the single
	// reply frame, or an error on timeout/transport failure.
	SendRequest(ctx context.Context, peerAddr string, frame []byte, timeout time.Duration) ([]byte, error)

	// Serve accepts connections until ctx is cancelled, dispatching each
	// inbound frame to handler and writing back its return value.
	Serve(ctx context.Context, handler Handler) error

	// Close releases any listening resources.
	Close() error
}
