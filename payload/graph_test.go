package payload

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishajw/kipa/keyspace"
	"github.com/mishajw/kipa/neighbour"
	"github.com/mishajw/kipa/wire"
)

func node(seed string) wire.Node {
	return wire.Node{
		Key:     wire.NewPublicKey([]byte(seed)),
		Address: wire.Address{Host: net.ParseIP("127.0.0.1"), Port: 1},
	}
}

// network is an in-memory Caller routing Call to the Handle method of
// whichever Engine owns the target node, letting these tests build a
// small fixed topology without any real transport.
type network struct {
	engines map[wire.NodeID]Engine
	self    map[wire.NodeID]wire.Node
}

func newNetwork() *network {
	return &network{engines: map[wire.NodeID]Engine{}, self: map[wire.NodeID]wire.Node{}}
}

func (n *network) register(self wire.Node, e Engine) {
	n.engines[self.ID()] = e
	n.self[self.ID()] = self
}

func (n *network) Call(ctx context.Context, peer wire.Node, payload wire.RequestPayload, _ time.Duration) (wire.ResponsePayload, error) {
	e, ok := n.engines[peer.ID()]
	if !ok {
		return wire.ResponsePayload{}, assert.AnError
	}
	return e.Handle(ctx, wire.Node{}, payload), nil
}

func TestSearchSelfReturnsFoundImmediately(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 4)
	engine := NewGraph(self, store, newNetwork(), Config{})

	found, ok := engine.Search(context.Background(), self.Key)
	require.True(t, ok)
	assert.True(t, found.Equal(self))
}

func TestSearchUnknownKeyWithNoNeighboursReturnsNotFound(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 4)
	engine := NewGraph(self, store, newNetwork(), Config{})

	_, ok := engine.Search(context.Background(), wire.NewPublicKey([]byte("kB")))
	assert.False(t, ok)
}

// buildRing wires up a ring of named engines, each one's NeighbourStore
// seeded with the keys before and after it in keys (wrapping around),
// after spec.md §8 scenario 2.
func buildRing(t *testing.T, net *network, keys []string) map[string]wire.Node {
	t.Helper()
	nodes := make(map[string]wire.Node, len(keys))
	for _, k := range keys {
		nodes[k] = node(k)
	}
	stores := make(map[string]*neighbour.Store, len(keys))
	for _, k := range keys {
		stores[k] = neighbour.New(nodes[k].Key.Coord(), len(keys))
	}
	n := len(keys)
	for i, k := range keys {
		left := keys[(i-1+n)%n]
		right := keys[(i+1)%n]
		stores[k].Consider(nodes[left])
		stores[k].Consider(nodes[right])
	}
	for _, k := range keys {
		engine := NewGraph(nodes[k], stores[k], net, Config{MaxConcurrency: 2, ReplySize: 4})
		net.register(nodes[k], engine)
	}
	return nodes
}

func TestSearchRingDiscoversDistantNode(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	net := newNetwork()
	nodes := buildRing(t, net, keys)

	engine := net.engines[nodes["k1"].ID()].(*Graph)
	found, ok := engine.Search(context.Background(), nodes["k4"].Key)
	require.True(t, ok)
	assert.True(t, found.Equal(nodes["k4"]))
}

func TestSearchRingMissingKeyReturnsNotFound(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	net := newNetwork()
	nodes := buildRing(t, net, keys)

	engine := net.engines[nodes["k1"].ID()].(*Graph)
	_, ok := engine.Search(context.Background(), wire.NewPublicKey([]byte("absent-key")))
	assert.False(t, ok, "converging on the closest honest node is not a match for a key no node holds")
}

func TestConnectAdmitsVerifiedNodes(t *testing.T) {
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	net := newNetwork()
	nodes := buildRing(t, net, keys)

	x := node("kX")
	xStore := neighbour.New(x.Key.Coord(), 4)
	xEngine := NewGraph(x, xStore, net, Config{MaxConcurrency: 2, ReplySize: 4})
	net.register(x, xEngine)

	err := xEngine.Connect(context.Background(), nodes["k1"])
	require.NoError(t, err)
	assert.LessOrEqual(t, xStore.Len(), 4)
	assert.Greater(t, xStore.Len(), 0)
}

func TestHandleQueryNeighboursNeverExceedsReplySize(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 10)
	for i := 0; i < 10; i++ {
		store.Consider(node("candidate-" + string(rune('a'+i))))
	}
	engine := NewGraph(self, store, newNetwork(), Config{ReplySize: 3})

	resp := engine.Handle(context.Background(), wire.Node{}, wire.RequestPayload{
		Kind:   wire.KindQueryNeighbours,
		Target: keyspace.Coord{0, 0},
	})
	assert.Equal(t, wire.KindNeighbours, resp.Kind)
	assert.LessOrEqual(t, len(resp.Nodes), 3)
}

func TestHandleListNeighboursEmptyStoreYieldsEmptyList(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 4)
	engine := NewGraph(self, store, newNetwork(), Config{})

	resp := engine.Handle(context.Background(), wire.Node{}, wire.RequestPayload{Kind: wire.KindListNeighbours})
	assert.Equal(t, wire.KindNeighbours, resp.Kind)
	assert.Empty(t, resp.Nodes)
}

func TestHandleVerifyAlwaysSucceeds(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 4)
	engine := NewGraph(self, store, newNetwork(), Config{})

	for i := 0; i < 3; i++ {
		resp := engine.Handle(context.Background(), wire.Node{}, wire.RequestPayload{Kind: wire.KindVerify})
		assert.Equal(t, wire.KindVerified, resp.Kind)
	}
}

// impersonatingCaller simulates a malicious peer M that, when asked to
// Search, reports a candidate carrying the target's key but M's own
// address; Verify against that claimed (key, address) pair must fail
// because the reply actually comes back signed/addressed as M, not
// the real target. The caller models this directly: Verify calls
// against the impersonated node always error out.
type impersonatingCaller struct {
	impersonated wire.Node
}

func (c impersonatingCaller) Call(_ context.Context, peer wire.Node, payload wire.RequestPayload, _ time.Duration) (wire.ResponsePayload, error) {
	if payload.Kind == wire.KindVerify && peer.Equal(c.impersonated) {
		return wire.ResponsePayload{}, assert.AnError
	}
	return wire.ResponsePayload{Kind: wire.KindVerified}, nil
}

func TestVerificationGateRejectsImpersonation(t *testing.T) {
	self := node("kA")
	store := neighbour.New(self.Key.Coord(), 4)
	targetKey := wire.NewPublicKey([]byte("target-key"))
	impersonator := wire.Node{Key: targetKey, Address: wire.Address{Host: net.ParseIP("10.0.0.9"), Port: 9999}}

	store.Consider(impersonator)
	engine := NewGraph(self, store, impersonatingCaller{impersonated: impersonator}, Config{MaxConcurrency: 1})

	_, ok := engine.Search(context.Background(), targetKey)
	assert.False(t, ok, "a candidate that fails Verify must downgrade the search result to not-found")
}
