// Package neighbour implements NeighbourStore, the bounded, angular-spread
// aware set of contacts a node maintains (spec.md §4.B).
package neighbour

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mishajw/kipa/keyspace"
	"github.com/mishajw/kipa/wire"
)

// Outcome is the result of a consider() admission attempt.
type Outcome int

const (
	Admitted Outcome = iota
	Rejected
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	case AlreadyPresent:
		return "already-present"
	default:
		return "unknown"
	}
}

// ProbeOutcome records the result of the most recent liveness probe
// against a neighbour, maintained by NeighbourGC.
type ProbeOutcome int

const (
	ProbeUnknown ProbeOutcome = iota
	ProbeSucceeded
	ProbeFailed
)

// Record is a NeighbourRecord: a Node plus the bookkeeping NeighbourGC
// and the admission policy need.
type Record struct {
	Node             wire.Node
	LastSeenAt       time.Time
	LastProbeOutcome ProbeOutcome
	FailureCount     int
}

// Store is the admission-controlled, size-bounded neighbour set
// described in spec.md §4.B. The zero value is not usable; construct
// with New. Safe for concurrent use.
type Store struct {
	localCoord keyspace.Coord
	maxSize    int
	alpha      float64
	beta       float64

	mu      sync.Mutex
	records []Record // kept sorted ascending by distance to localCoord
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCostWeights overrides the default α=1, β=1 admission cost weights
// (spec.md §4.B names these as "implementation constants").
func WithCostWeights(alpha, beta float64) Option {
	return func(s *Store) {
		s.alpha = alpha
		s.beta = beta
	}
}

// New constructs a Store for a node embedded at localCoord, bounded to
// maxSize neighbours.
func New(localCoord keyspace.Coord, maxSize int, opts ...Option) *Store {
	s := &Store{
		localCoord: localCoord,
		maxSize:    maxSize,
		alpha:      1,
		beta:       1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) distanceTo(n wire.Node) float64 {
	return keyspace.Distance(s.localCoord, n.Key.Coord())
}

// Consider implements the admission policy of spec.md §4.B.
func (s *Store) Consider(candidate wire.Node) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(candidate.Key); idx >= 0 {
		s.records[idx].Node.Address = candidate.Address
		s.records[idx].LastSeenAt = time.Now()
		return AlreadyPresent
	}

	if len(s.records) < s.maxSize {
		s.insert(Record{Node: candidate, LastSeenAt: time.Now()})
		return Admitted
	}

	return s.tryDisplace(candidate)
}

func (s *Store) indexOf(key wire.PublicKey) int {
	for i, r := range s.records {
		if r.Node.Key.Equal(key) {
			return i
		}
	}
	return -1
}

func (s *Store) insert(r Record) {
	s.records = append(s.records, r)
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.distanceTo(s.records[i].Node) < s.distanceTo(s.records[j].Node)
	})
}

// tryDisplace implements step 3 of the admission policy: find the
// existing neighbour whose removal (replaced by candidate) yields the
// lowest cost, and displace it if that is a strict improvement.
func (s *Store) tryDisplace(candidate wire.Node) Outcome {
	currentNodes := s.nodes()
	currentCost := s.cost(currentNodes)

	bestIdx := -1
	bestCost := math.Inf(1)
	for i := range s.records {
		trial := make([]wire.Node, 0, len(currentNodes))
		for j, n := range currentNodes {
			if j == i {
				continue
			}
			trial = append(trial, n)
		}
		trial = append(trial, candidate)
		c := s.cost(trial)
		if c < bestCost {
			bestCost = c
			bestIdx = i
		}
	}

	const margin = 1e-9
	if bestIdx < 0 || bestCost >= currentCost-margin {
		return Rejected
	}

	s.records = append(s.records[:bestIdx], s.records[bestIdx+1:]...)
	s.insert(Record{Node: candidate, LastSeenAt: time.Now()})
	return Admitted
}

func (s *Store) nodes() []wire.Node {
	nodes := make([]wire.Node, len(s.records))
	for i, r := range s.records {
		nodes[i] = r.Node
	}
	return nodes
}

// cost computes α·mean_distance(store) − β·angular_spread(store), per
// spec.md §4.B.
func (s *Store) cost(nodes []wire.Node) float64 {
	if len(nodes) == 0 {
		return 0
	}
	var sumDist float64
	for _, n := range nodes {
		sumDist += keyspace.Distance(s.localCoord, n.Key.Coord())
	}
	meanDist := sumDist / float64(len(nodes))
	return s.alpha*meanDist - s.beta*angularSpread(s.localCoord, nodes)
}

// angularSpread is the mean pairwise angle between neighbour vectors
// from the local node (spec.md §4.B).
func angularSpread(local keyspace.Coord, nodes []wire.Node) float64 {
	if len(nodes) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			sum += keyspace.Angle(local, nodes[i].Key.Coord(), nodes[j].Key.Coord())
			pairs++
		}
	}
	return sum / float64(pairs)
}

// Remove implements explicit eviction, used by NeighbourGC.
func (s *Store) Remove(id wire.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.Node.ID() == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns the current neighbour set, closest-first.
func (s *Store) Snapshot() []wire.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Node(nil), s.nodes()...)
}

// RecordsSnapshot returns a defensive copy of the full Record set,
// closest-first, for use by NeighbourGC.
func (s *Store) RecordsSnapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// ApplyProbeResults atomically updates liveness bookkeeping and evicts
// any neighbour whose failure count now exceeds maxFailures. GC calls
// this once per probe round with the outcomes it observed.
func (s *Store) ApplyProbeResults(outcomes map[wire.NodeID]bool, maxFailures int) []wire.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []wire.Node
	kept := s.records[:0:0]
	for _, r := range s.records {
		ok, probed := outcomes[r.Node.ID()]
		switch {
		case !probed:
			kept = append(kept, r)
		case ok:
			r.LastSeenAt = time.Now()
			r.LastProbeOutcome = ProbeSucceeded
			r.FailureCount = 0
			kept = append(kept, r)
		default:
			r.LastProbeOutcome = ProbeFailed
			r.FailureCount++
			if r.FailureCount > maxFailures {
				evicted = append(evicted, r.Node)
				continue
			}
			kept = append(kept, r)
		}
	}
	s.records = kept
	return evicted
}

// ClosestTo implements closest_to: neighbours ranked by distance to an
// arbitrary point, up to limit.
func (s *Store) ClosestTo(point keyspace.Coord, limit int) []wire.Node {
	s.mu.Lock()
	nodes := s.nodes()
	s.mu.Unlock()

	sort.SliceStable(nodes, func(i, j int) bool {
		return keyspace.Distance(point, nodes[i].Key.Coord()) < keyspace.Distance(point, nodes[j].Key.Coord())
	})
	if limit >= 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}

// Len returns the current neighbour count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
