package world

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishajw/kipa/neighbour"
	"github.com/mishajw/kipa/payload"
	"github.com/mishajw/kipa/wire"
)

// stubEngine lets these tests exercise World's delegation without
// constructing real OpenPGP key material or a live transport.
type stubEngine struct {
	searchResult  wire.Node
	searchFound   bool
	connectCalled bool
}

func (s *stubEngine) Handle(context.Context, wire.Node, wire.RequestPayload) wire.ResponsePayload {
	return wire.ResponsePayload{}
}
func (s *stubEngine) Search(context.Context, wire.PublicKey) (wire.Node, bool) {
	return s.searchResult, s.searchFound
}
func (s *stubEngine) Connect(context.Context, wire.Node) error {
	s.connectCalled = true
	return nil
}

func testNode(seed string) wire.Node {
	return wire.Node{
		Key:     wire.NewPublicKey([]byte(seed)),
		Address: wire.Address{Host: net.ParseIP("127.0.0.1"), Port: 1},
	}
}

func newTestWorld(t *testing.T, engine payload.Engine) *World {
	t.Helper()
	self := testNode("self")
	store := neighbour.New(self.Key.Coord(), 4)
	return &World{Self: self, Store: store, Engine: engine}
}

func TestListNeighboursReflectsStore(t *testing.T) {
	w := newTestWorld(t, &stubEngine{})
	n := testNode("neighbour")
	w.Store.Consider(n)

	list := w.ListNeighbours()
	require.Len(t, list, 1)
	assert.True(t, list[0].Equal(n))
}

func TestSearchDelegatesToEngine(t *testing.T) {
	found := testNode("found")
	w := newTestWorld(t, &stubEngine{searchResult: found, searchFound: true})

	got, ok := w.Search(context.Background(), found.Key, time.Second)
	require.True(t, ok)
	assert.True(t, got.Equal(found))
}

func TestConnectDelegatesToEngine(t *testing.T) {
	engine := &stubEngine{}
	w := newTestWorld(t, engine)

	require.NoError(t, w.Connect(context.Background(), testNode("initial")))
	assert.True(t, engine.connectCalled)
}

func TestSearchNotFound(t *testing.T) {
	w := newTestWorld(t, &stubEngine{searchFound: false})
	_, ok := w.Search(context.Background(), wire.NewPublicKey([]byte("missing")), time.Second)
	assert.False(t, ok)
}
