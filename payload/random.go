package payload

import (
	"context"
	"math/rand"

	"github.com/mishajw/kipa/wire"
)

// Random answers QueryNeighbours and ListNeighbours with a random
// subset of a fixed candidate pool, Verify unconditionally, and treats
// Search/Connect as always failing. It exercises GraphSearch and
// MessageRouter against unpredictable but well-formed peer behaviour
// without a live network (spec.md §9).
type Random struct {
	Pool      []wire.Node
	ReplySize int
	Rand      *rand.Rand
}

// NewRandom constructs a Random engine with a private source so tests
// using multiple instances don't share (and serialize on) one global
// generator.
func NewRandom(pool []wire.Node, replySize int, seed int64) *Random {
	if replySize <= 0 {
		replySize = 4
	}
	return &Random{Pool: pool, ReplySize: replySize, Rand: rand.New(rand.NewSource(seed))}
}

func (r *Random) Handle(_ context.Context, _ wire.Node, req wire.RequestPayload) wire.ResponsePayload {
	switch req.Kind {
	case wire.KindQueryNeighbours, wire.KindListNeighbours:
		return wire.ResponsePayload{Kind: wire.KindNeighbours, Nodes: r.sample()}
	case wire.KindVerify:
		return wire.ResponsePayload{Kind: wire.KindVerified}
	case wire.KindSearch, wire.KindConnect:
		return wire.ResponsePayload{Kind: wire.KindError, ErrorText: "random: unsupported"}
	default:
		return wire.ResponsePayload{Kind: wire.KindError, ErrorText: "random: unsupported request kind"}
	}
}

func (r *Random) sample() []wire.Node {
	if len(r.Pool) == 0 {
		return nil
	}
	n := r.ReplySize
	if n > len(r.Pool) {
		n = len(r.Pool)
	}
	perm := r.Rand.Perm(len(r.Pool))[:n]
	out := make([]wire.Node, n)
	for i, idx := range perm {
		out[i] = r.Pool[idx]
	}
	return out
}

func (r *Random) Search(context.Context, wire.PublicKey) (wire.Node, bool) {
	return wire.Node{}, false
}

func (r *Random) Connect(context.Context, wire.Node) error {
	return errUnverified
}
