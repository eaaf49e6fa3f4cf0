package payload

import (
	"context"

	"github.com/mishajw/kipa/wire"
)

// Blackhole is a PayloadEngine that answers every inbound request with
// an error and never admits or discovers anything. It stands in for a
// dead or hostile peer in tests (spec.md §9).
type Blackhole struct{}

func (Blackhole) Handle(_ context.Context, _ wire.Node, _ wire.RequestPayload) wire.ResponsePayload {
	return wire.ResponsePayload{Kind: wire.KindError, ErrorText: "blackhole: no response"}
}

func (Blackhole) Search(context.Context, wire.PublicKey) (wire.Node, bool) {
	return wire.Node{}, false
}

func (Blackhole) Connect(context.Context, wire.Node) error {
	return errUnverified
}
