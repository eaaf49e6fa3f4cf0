// Package search implements GraphSearch: a generic parallel
// greedy best-first search over the neighbour graph (spec.md §4.E).
package search

import (
	"container/heap"
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mishajw/kipa/keyspace"
	"github.com/mishajw/kipa/wire"
)

// Decision is returned by callbacks to control whether the search
// continues exploring or stops immediately.
type Decision int

const (
	Continue Decision = iota
	Stop
)

// Outcome is the terminal state of a Run call.
type Outcome int

const (
	// OutcomeStopped means a callback returned Stop.
	OutcomeStopped Outcome = iota
	// OutcomeExhausted means the frontier emptied with nothing in flight.
	OutcomeExhausted
)

// QueryFunc issues QueryNeighbours to node and returns the neighbours it
// reported, or an error on failure. Implemented by PayloadEngine as
// call(node, QueryNeighbours(target)) (spec.md §4.E).
type QueryFunc func(ctx context.Context, node wire.Node) ([]wire.Node, error)

// FoundFunc is invoked exactly once per distinct node first discovered.
type FoundFunc func(node wire.Node) Decision

// ExploredFunc is invoked exactly once per node successfully queried
// (or whose query failed, with a nil neighbour slice).
type ExploredFunc func(node wire.Node, neighbours []wire.Node) Decision

// Params configures a single Run.
type Params struct {
	Initial        []wire.Node
	Target         keyspace.Coord
	MaxConcurrency int
	Query          QueryFunc
	Found          FoundFunc
	Explored       ExploredFunc
}

// frontierItem is one entry in the priority queue, ordered ascending by
// distance to target.
type frontierItem struct {
	node     wire.Node
	distance float64
}

type frontier []frontierItem

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].distance < f[j].distance }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

type exploreResult struct {
	node       wire.Node
	neighbours []wire.Node
	err        error
}

// Run executes the algorithm described in spec.md §4.E, returning once
// a callback returns Stop or the search is exhausted. Callbacks run
// only on the calling goroutine; worker goroutines only produce
// exploreResult values.
func Run(ctx context.Context, p Params) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fr := &frontier{}
	heap.Init(fr)
	seen := mapset.NewThreadUnsafeSet[wire.NodeID]()

	for _, n := range p.Initial {
		if seen.Contains(n.ID()) {
			continue
		}
		seen.Add(n.ID())
		heap.Push(fr, frontierItem{node: n, distance: keyspace.Distance(n.Key.Coord(), p.Target)})
	}

	// found_cb is invoked for the seed set in ascending-distance order,
	// same as any other batch (spec.md §4.E ordering guarantee).
	seedNodes := make([]wire.Node, fr.Len())
	tmp := make(frontier, fr.Len())
	copy(tmp, *fr)
	heap.Init(&tmp)
	for i := range seedNodes {
		seedNodes[i] = heap.Pop(&tmp).(frontierItem).node
	}
	for _, n := range seedNodes {
		if p.Found(n) == Stop {
			return OutcomeStopped
		}
	}

	results := make(chan exploreResult)
	var wg sync.WaitGroup
	inFlight := 0

	spawn := func(n wire.Node) {
		inFlight++
		wg.Add(1)
		go func() {
			defer wg.Done()
			neighbours, err := p.Query(ctx, n)
			select {
			case results <- exploreResult{node: n, neighbours: neighbours, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		for inFlight < p.MaxConcurrency && fr.Len() > 0 {
			item := heap.Pop(fr).(frontierItem)
			spawn(item.node)
		}

		if inFlight == 0 && fr.Len() == 0 {
			return OutcomeExhausted
		}

		select {
		case <-ctx.Done():
			return OutcomeStopped
		case res := <-results:
			inFlight--
			var neighbours []wire.Node
			if res.err == nil {
				neighbours = res.neighbours
			}

			var fresh []wire.Node
			for _, n := range neighbours {
				if seen.Contains(n.ID()) {
					continue
				}
				seen.Add(n.ID())
				fresh = append(fresh, n)
			}
			sortByDistance(fresh, p.Target)
			for _, n := range fresh {
				heap.Push(fr, frontierItem{node: n, distance: keyspace.Distance(n.Key.Coord(), p.Target)})
				if p.Found(n) == Stop {
					return OutcomeStopped
				}
			}

			if p.Explored(res.node, neighbours) == Stop {
				return OutcomeStopped
			}
		}
	}
}

func sortByDistance(nodes []wire.Node, target keyspace.Coord) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && keyspace.Distance(nodes[j].Key.Coord(), target) < keyspace.Distance(nodes[j-1].Key.Coord(), target); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// probeOutcomes is a convenience used by NeighbourGC: run p.Query against
// every node in parallel (bounded by maxConcurrency) and collect a
// success/failure map, without any frontier or callback machinery.
func probeOutcomes(ctx context.Context, nodes []wire.Node, maxConcurrency int, query QueryFunc) map[wire.NodeID]bool {
	outcomes := make(map[wire.NodeID]bool, len(nodes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			_, err := query(ctx, n)
			mu.Lock()
			outcomes[n.ID()] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// ProbeOutcomes exposes probeOutcomes for use outside the package (the
// gc package runs the same bounded-parallel probing pattern).
func ProbeOutcomes(ctx context.Context, nodes []wire.Node, maxConcurrency int, query QueryFunc) map[wire.NodeID]bool {
	return probeOutcomes(ctx, nodes, maxConcurrency, query)
}
