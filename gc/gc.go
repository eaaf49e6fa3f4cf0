// Package gc implements NeighbourGC: periodic liveness probing that
// evicts unresponsive neighbours (spec.md §4.G).
package gc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mishajw/kipa/neighbour"
	"github.com/mishajw/kipa/payload"
	"github.com/mishajw/kipa/search"
	"github.com/mishajw/kipa/wire"
)

// DefaultInterval and DefaultMaxFailures match spec.md §4.G's stated
// defaults.
const (
	DefaultInterval    = 60 * time.Second
	DefaultMaxFailures = 3
)

// GC runs NeighbourGC for one Store, issuing Verify against every
// current neighbour on a fixed interval.
type GC struct {
	store          *neighbour.Store
	call           payload.Caller
	logger         *zap.Logger
	interval       time.Duration
	maxFailures    int
	maxConcurrency int
	queryTimeout   time.Duration
}

// Option configures a GC at construction time.
type Option func(*GC)

func WithInterval(d time.Duration) Option     { return func(g *GC) { g.interval = d } }
func WithMaxFailures(n int) Option            { return func(g *GC) { g.maxFailures = n } }
func WithMaxConcurrency(n int) Option         { return func(g *GC) { g.maxConcurrency = n } }
func WithQueryTimeout(d time.Duration) Option { return func(g *GC) { g.queryTimeout = d } }

// New constructs a GC over store, using call to issue Verify requests.
func New(store *neighbour.Store, call payload.Caller, logger *zap.Logger, opts ...Option) *GC {
	g := &GC{
		store:          store,
		call:           call,
		logger:         logger,
		interval:       DefaultInterval,
		maxFailures:    DefaultMaxFailures,
		maxConcurrency: 8,
		queryTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run blocks, probing on every tick until ctx is cancelled.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single probe-and-evict pass: snapshot the current
// neighbours, probe them all in parallel, then apply the outcomes
// atomically (spec.md §4.G: "GC holds no locks across network calls").
func (g *GC) RunOnce(ctx context.Context) []wire.Node {
	records := g.store.RecordsSnapshot()
	if len(records) == 0 {
		return nil
	}
	nodes := make([]wire.Node, len(records))
	for i, r := range records {
		nodes[i] = r.Node
	}

	outcomes := search.ProbeOutcomes(ctx, nodes, g.maxConcurrency, func(ctx context.Context, n wire.Node) ([]wire.Node, error) {
		_, err := g.call.Call(ctx, n, wire.RequestPayload{Kind: wire.KindVerify}, g.queryTimeout)
		return nil, err
	})

	evicted := g.store.ApplyProbeResults(outcomes, g.maxFailures)
	for _, n := range evicted {
		g.logger.Info("evicted unresponsive neighbour", zap.String("node", n.Key.String()))
	}
	return evicted
}
