package search

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishajw/kipa/keyspace"
	"github.com/mishajw/kipa/wire"
)

func node(seed string) wire.Node {
	return wire.Node{
		Key:     wire.NewPublicKey([]byte(seed)),
		Address: wire.Address{Host: net.ParseIP("127.0.0.1"), Port: 1},
	}
}

// graphQuery builds a QueryFunc over a fixed adjacency map, for
// deterministic multi-hop search tests.
func graphQuery(adjacency map[wire.NodeID][]wire.Node) QueryFunc {
	return func(_ context.Context, n wire.Node) ([]wire.Node, error) {
		return adjacency[n.ID()], nil
	}
}

func TestRunSingleNodeExhausts(t *testing.T) {
	a := node("a")
	adjacency := map[wire.NodeID][]wire.Node{a.ID(): {}}

	var found []wire.Node
	var explored []wire.Node
	outcome := Run(context.Background(), Params{
		Initial:        []wire.Node{a},
		Target:         a.Key.Coord(),
		MaxConcurrency: 4,
		Query:          graphQuery(adjacency),
		Found:          func(n wire.Node) Decision { found = append(found, n); return Continue },
		Explored:       func(n wire.Node, ns []wire.Node) Decision { explored = append(explored, n); return Continue },
	})

	assert.Equal(t, OutcomeExhausted, outcome)
	require.Len(t, found, 1)
	require.Len(t, explored, 1)
	assert.True(t, found[0].Equal(a))
}

func TestRunTwoHopDiscoversTransitiveNode(t *testing.T) {
	a, b, c := node("a"), node("b"), node("c")
	adjacency := map[wire.NodeID][]wire.Node{
		a.ID(): {b},
		b.ID(): {c},
		c.ID(): {},
	}

	var mu sync.Mutex
	foundIDs := map[wire.NodeID]bool{}

	outcome := Run(context.Background(), Params{
		Initial:        []wire.Node{a},
		Target:         c.Key.Coord(),
		MaxConcurrency: 4,
		Query:          graphQuery(adjacency),
		Found: func(n wire.Node) Decision {
			mu.Lock()
			foundIDs[n.ID()] = true
			mu.Unlock()
			return Continue
		},
		Explored: func(wire.Node, []wire.Node) Decision { return Continue },
	})

	assert.Equal(t, OutcomeExhausted, outcome)
	assert.True(t, foundIDs[a.ID()])
	assert.True(t, foundIDs[b.ID()])
	assert.True(t, foundIDs[c.ID()])
}

func TestRunStopsOnFoundCallback(t *testing.T) {
	a, b := node("a"), node("b")
	adjacency := map[wire.NodeID][]wire.Node{a.ID(): {b}, b.ID(): {}}

	outcome := Run(context.Background(), Params{
		Initial:        []wire.Node{a},
		Target:         b.Key.Coord(),
		MaxConcurrency: 2,
		Query:          graphQuery(adjacency),
		Found: func(n wire.Node) Decision {
			if n.Equal(b) {
				return Stop
			}
			return Continue
		},
		Explored: func(wire.Node, []wire.Node) Decision { return Continue },
	})

	assert.Equal(t, OutcomeStopped, outcome)
}

func TestRunNoNodeVisitedTwice(t *testing.T) {
	// A diamond graph: a -> {b, c}, b -> {d}, c -> {d}.
	a, b, c, d := node("a"), node("b"), node("c"), node("d")
	adjacency := map[wire.NodeID][]wire.Node{
		a.ID(): {b, c},
		b.ID(): {d},
		c.ID(): {d},
		d.ID(): {},
	}

	var mu sync.Mutex
	exploredCount := map[wire.NodeID]int{}
	foundCount := map[wire.NodeID]int{}

	outcome := Run(context.Background(), Params{
		Initial:        []wire.Node{a},
		Target:         d.Key.Coord(),
		MaxConcurrency: 4,
		Query:          graphQuery(adjacency),
		Found: func(n wire.Node) Decision {
			mu.Lock()
			foundCount[n.ID()]++
			mu.Unlock()
			return Continue
		},
		Explored: func(n wire.Node, _ []wire.Node) Decision {
			mu.Lock()
			exploredCount[n.ID()]++
			mu.Unlock()
			return Continue
		},
	})

	assert.Equal(t, OutcomeExhausted, outcome)
	for id, count := range exploredCount {
		assert.Equal(t, 1, count, "node %v explored more than once", id)
	}
	for id, count := range foundCount {
		assert.Equal(t, 1, count, "node %v found more than once", id)
	}
}

func TestRunSurfacesQueryFailureAsEmptyExploration(t *testing.T) {
	a := node("a")
	failingQuery := func(_ context.Context, _ wire.Node) ([]wire.Node, error) {
		return nil, errors.New("peer unreachable")
	}

	var exploredNeighbours []wire.Node
	var exploredCalled bool
	outcome := Run(context.Background(), Params{
		Initial:        []wire.Node{a},
		Target:         a.Key.Coord(),
		MaxConcurrency: 1,
		Query:          failingQuery,
		Found:          func(wire.Node) Decision { return Continue },
		Explored: func(_ wire.Node, ns []wire.Node) Decision {
			exploredCalled = true
			exploredNeighbours = ns
			return Continue
		},
	})

	assert.Equal(t, OutcomeExhausted, outcome)
	assert.True(t, exploredCalled)
	assert.Empty(t, exploredNeighbours)
}

func TestProbeOutcomesReportsPerNodeResult(t *testing.T) {
	a, b := node("a"), node("b")
	query := func(_ context.Context, n wire.Node) ([]wire.Node, error) {
		if n.Equal(b) {
			return nil, errors.New("unreachable")
		}
		return nil, nil
	}
	outcomes := ProbeOutcomes(context.Background(), []wire.Node{a, b}, 4, query)
	assert.True(t, outcomes[a.ID()])
	assert.False(t, outcomes[b.ID()])
}

func TestRunEmptyInitialIsImmediatelyExhausted(t *testing.T) {
	outcome := Run(context.Background(), Params{
		Initial:        nil,
		Target:         keyspace.Coord{0, 0},
		MaxConcurrency: 2,
		Query:          graphQuery(nil),
		Found:          func(wire.Node) Decision { return Continue },
		Explored:       func(wire.Node, []wire.Node) Decision { return Continue },
	})
	assert.Equal(t, OutcomeExhausted, outcome)
}
