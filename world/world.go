// Package world assembles the daemon's single shared object: the
// NeighbourStore, PayloadEngine, MessageRouter and KeyStore, wired
// together and passed by reference (spec.md §9's "global mutable
// state" note — no package-level singletons anywhere in this repo).
package world

import (
	"context"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"go.uber.org/zap"

	"github.com/mishajw/kipa/envelope"
	"github.com/mishajw/kipa/gc"
	"github.com/mishajw/kipa/internal/config"
	"github.com/mishajw/kipa/neighbour"
	"github.com/mishajw/kipa/payload"
	"github.com/mishajw/kipa/router"
	"github.com/mishajw/kipa/transport"
	"github.com/mishajw/kipa/wire"
)

// World is the daemon's dependency-injection root.
type World struct {
	Self      wire.Node
	Store     *neighbour.Store
	KeyStore  envelope.KeyStore
	Router    *router.Router
	Engine    payload.Engine
	Transport transport.Transport
	GC        *gc.GC

	logger *zap.Logger
}

// New assembles a World from cfg and the local node's identity
// (self, private). engine defaults to Graph when cfg.Handler requests
// it, else to Blackhole or Random per spec.md §9.
func New(self wire.Node, private *packet.PrivateKey, cfg config.Config, logger *zap.Logger) (*World, error) {
	store := neighbour.New(self.Key.Coord(), cfg.MaxNeighbours, neighbour.WithCostWeights(cfg.Alpha, cfg.Beta))

	keyStore := envelope.NewPGPKeyStore(private, envelope.ResolvePublicKeyPacket)

	t := transport.NewTCP(cfg.ListenAddress, logger)
	codec := wire.NewProtobufCodec()
	msgRouter := router.New(self, codec, keyStore, t, logger)

	var engine payload.Engine
	switch cfg.Handler {
	case config.HandlerGraph:
		engine = payload.NewGraph(self, store, msgRouter, payload.Config{
			ReplySize:      cfg.ReplySize,
			MaxConcurrency: cfg.MaxConcurrency,
			QueryTimeout:   cfg.QueryTimeout,
		})
	case config.HandlerBlackhole:
		engine = payload.Blackhole{}
	case config.HandlerRandom:
		engine = payload.NewRandom(nil, cfg.ReplySize, 1)
	default:
		return nil, fmt.Errorf("world: unknown handler %q", cfg.Handler)
	}

	w := &World{
		Self:      self,
		Store:     store,
		KeyStore:  keyStore,
		Router:    msgRouter,
		Engine:    engine,
		Transport: t,
		logger:    logger,
	}
	w.GC = gc.New(store, msgRouter, logger, gc.WithInterval(cfg.GCInterval), gc.WithMaxFailures(cfg.GCMaxFailures), gc.WithMaxConcurrency(cfg.MaxConcurrency))
	return w, nil
}

// Serve starts accepting connections and runs NeighbourGC until ctx is
// cancelled.
func (w *World) Serve(ctx context.Context) error {
	go w.GC.Run(ctx)

	return w.Transport.Serve(ctx, func(ctx context.Context, _ string, frame []byte) ([]byte, error) {
		return w.Router.Dispatch(ctx, frame, w.Engine.Handle)
	})
}

// Connect bootstraps the local NeighbourStore from initial.
func (w *World) Connect(ctx context.Context, initial wire.Node) error {
	return w.Engine.Connect(ctx, initial)
}

// Search runs an outbound search for targetKey.
func (w *World) Search(ctx context.Context, targetKey wire.PublicKey, timeout time.Duration) (wire.Node, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.Engine.Search(ctx, targetKey)
}

// ListNeighbours is the local administrative read of spec.md §4.F.
func (w *World) ListNeighbours() []wire.Node {
	return w.Store.Snapshot()
}

// Close releases the World's transport resources.
func (w *World) Close() error {
	return w.Transport.Close()
}
