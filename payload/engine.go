// Package payload implements PayloadEngine: the application-level
// handlers for QueryNeighbours, Search, Connect, Verify and
// ListNeighbours on top of KeySpace, NeighbourStore, MessageRouter and
// GraphSearch (spec.md §4.F).
package payload

import (
	"context"
	"time"

	"github.com/mishajw/kipa/wire"
)

// Engine is the PayloadEngine interface: it answers one inbound
// request and, separately, drives outbound Search/Connect. Three
// implementations are provided: Graph (the real engine), Blackhole and
// Random (test doubles used in place of a live network, spec.md §9).
type Engine interface {
	// Handle answers a single inbound request from sender.
	Handle(ctx context.Context, sender wire.Node, payload wire.RequestPayload) wire.ResponsePayload

	// Search runs an outbound search for targetKey and, on a verified
	// candidate, returns it; otherwise returns (Node{}, false).
	Search(ctx context.Context, targetKey wire.PublicKey) (wire.Node, bool)

	// Connect verifies initial, then searches for the local node's own
	// key to seed the neighbour store from the wider network.
	Connect(ctx context.Context, initial wire.Node) error
}

// Caller is the subset of MessageRouter that PayloadEngine needs to
// issue outbound requests; kept narrow so test doubles are trivial.
type Caller interface {
	Call(ctx context.Context, peer wire.Node, payload wire.RequestPayload, timeout time.Duration) (wire.ResponsePayload, error)
}
