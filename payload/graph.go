package payload

import (
	"context"
	"time"

	"github.com/mishajw/kipa/keyspace"
	"github.com/mishajw/kipa/neighbour"
	"github.com/mishajw/kipa/search"
	"github.com/mishajw/kipa/wire"
)

// Graph is the real PayloadEngine: it answers inbound requests from
// NeighbourStore and drives outbound Search/Connect via GraphSearch
// (spec.md §4.F).
type Graph struct {
	self  wire.Node
	store *neighbour.Store
	call  Caller

	replySize         int
	maxConcurrency    int
	queryTimeout      time.Duration
	convergenceWindow int
}

// Config holds Graph's tunables, all named directly in spec.md §8's
// end-to-end scenarios (reply_size, max_concurrency).
type Config struct {
	ReplySize      int
	MaxConcurrency int
	QueryTimeout   time.Duration

	// ConvergenceWindow is the number of consecutive explored nodes
	// without an improvement in best-known distance to target after
	// which the search is considered "closest N converged" (spec.md
	// §2's data-flow summary; the exact exit heuristic is left
	// unspecified by the source, see DESIGN.md).
	ConvergenceWindow int
}

// NewGraph constructs the real PayloadEngine for the local node.
func NewGraph(self wire.Node, store *neighbour.Store, call Caller, cfg Config) *Graph {
	if cfg.ReplySize <= 0 {
		cfg.ReplySize = 4
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.ConvergenceWindow <= 0 {
		cfg.ConvergenceWindow = cfg.ReplySize
	}
	return &Graph{
		self:              self,
		store:             store,
		call:              call,
		replySize:         cfg.ReplySize,
		maxConcurrency:    cfg.MaxConcurrency,
		queryTimeout:      cfg.QueryTimeout,
		convergenceWindow: cfg.ConvergenceWindow,
	}
}

func (g *Graph) Handle(ctx context.Context, sender wire.Node, req wire.RequestPayload) wire.ResponsePayload {
	switch req.Kind {
	case wire.KindQueryNeighbours:
		nodes := g.store.ClosestTo(req.Target, g.replySize)
		return wire.ResponsePayload{Kind: wire.KindNeighbours, Nodes: nodes}

	case wire.KindListNeighbours:
		return wire.ResponsePayload{Kind: wire.KindNeighbours, Nodes: g.store.Snapshot()}

	case wire.KindVerify:
		return wire.ResponsePayload{Kind: wire.KindVerified}

	case wire.KindSearch:
		if found, ok := g.Search(ctx, req.TargetKey); ok {
			return wire.ResponsePayload{Kind: wire.KindSearchResult, Found: &found}
		}
		return wire.ResponsePayload{Kind: wire.KindSearchResult}

	case wire.KindConnect:
		if err := g.verifyAndAdmit(ctx, req.Initial); err != nil {
			return wire.ResponsePayload{Kind: wire.KindError, ErrorText: err.Error()}
		}
		return wire.ResponsePayload{Kind: wire.KindConnected}

	default:
		return wire.ResponsePayload{Kind: wire.KindError, ErrorText: "unsupported request kind"}
	}
}

// Search implements the outbound Search operation of spec.md §4.F: run
// GraphSearch toward targetKey's coordinate, and independently verify
// whatever candidate it converges on before trusting it.
func (g *Graph) Search(ctx context.Context, targetKey wire.PublicKey) (wire.Node, bool) {
	if targetKey.Equal(g.self.Key) {
		return g.self, true
	}

	target := targetKey.Coord()

	var best wire.Node
	haveBest := false
	bestDist := 0.0
	sinceImprovement := 0
	matched := false

	search.Run(ctx, search.Params{
		Initial:        g.store.Snapshot(),
		Target:         target,
		MaxConcurrency: g.maxConcurrency,
		Query: func(ctx context.Context, n wire.Node) ([]wire.Node, error) {
			resp, err := g.call.Call(ctx, n, wire.RequestPayload{Kind: wire.KindQueryNeighbours, Target: target}, g.queryTimeout)
			if err != nil {
				return nil, err
			}
			return resp.Nodes, nil
		},
		Found: func(n wire.Node) search.Decision {
			d := keyspace.Distance(n.Key.Coord(), target)
			if !haveBest || d < bestDist {
				haveBest = true
				bestDist = d
				best = n
				sinceImprovement = 0
			}
			if n.Key.Equal(targetKey) {
				matched = true
				best = n
				bestDist = d
				return search.Stop
			}
			return search.Continue
		},
		Explored: func(wire.Node, []wire.Node) search.Decision {
			sinceImprovement++
			if sinceImprovement >= g.convergenceWindow {
				return search.Stop
			}
			return search.Continue
		},
	})

	// A search result requires an exact key match, not just the closest
	// honest node reached; converging without one means not found.
	if !haveBest || !(matched || bestDist == 0) {
		return wire.Node{}, false
	}

	if err := g.verifyAndAdmit(ctx, best); err != nil {
		return wire.Node{}, false
	}
	return best, true
}

// Connect implements spec.md §4.F's Connect: verify initial, then run a
// search for the local node's own key so NeighbourStore.consider sees
// every verified node the search passes through.
func (g *Graph) Connect(ctx context.Context, initial wire.Node) error {
	if err := g.verifyAndAdmit(ctx, initial); err != nil {
		return err
	}

	search.Run(ctx, search.Params{
		Initial:        []wire.Node{initial},
		Target:         g.self.Key.Coord(),
		MaxConcurrency: g.maxConcurrency,
		Query: func(ctx context.Context, n wire.Node) ([]wire.Node, error) {
			resp, err := g.call.Call(ctx, n, wire.RequestPayload{Kind: wire.KindQueryNeighbours, Target: g.self.Key.Coord()}, g.queryTimeout)
			if err != nil {
				return nil, err
			}
			return resp.Nodes, nil
		},
		Found: func(n wire.Node) search.Decision {
			if n.Equal(g.self) {
				return search.Continue
			}
			if g.verifyAndAdmit(ctx, n) == nil {
				g.store.Consider(n)
			}
			return search.Continue
		},
		Explored: func(wire.Node, []wire.Node) search.Decision { return search.Continue },
	})
	return nil
}

// verifyAndAdmit issues Verify to candidate and, on success, admits it
// into the neighbour store. A successful Verify binds candidate's
// claimed address to its claimed key, since MessageRouter.Call opens
// the response with that exact claimed public key (spec.md §4.F's
// "verification as binding").
func (g *Graph) verifyAndAdmit(ctx context.Context, candidate wire.Node) error {
	resp, err := g.call.Call(ctx, candidate, wire.RequestPayload{Kind: wire.KindVerify}, g.queryTimeout)
	if err != nil {
		return err
	}
	if resp.Kind != wire.KindVerified {
		return errUnverified
	}
	g.store.Consider(candidate)
	return nil
}
