// Package config loads the daemon's TOML configuration file (spec.md
// §6's "Persisted state: None by design" applies only to neighbour
// state; the listen address, bounds and bootstrap peers below are the
// daemon's static configuration, read once at startup).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// HandlerKind selects which PayloadEngine implementation the daemon
// constructs (spec.md §9's pluggable payload handler).
type HandlerKind string

const (
	HandlerGraph     HandlerKind = "graph"
	HandlerBlackhole HandlerKind = "blackhole"
	HandlerRandom    HandlerKind = "random"
)

// Config is the daemon's static configuration.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	SocketPath    string `toml:"socket_path"`

	MaxNeighbours int     `toml:"max_neighbours"`
	ReplySize     int     `toml:"reply_size"`
	Alpha         float64 `toml:"alpha"`
	Beta          float64 `toml:"beta"`

	MaxConcurrency int           `toml:"max_concurrency"`
	QueryTimeout   time.Duration `toml:"query_timeout"`

	GCInterval    time.Duration `toml:"gc_interval"`
	GCMaxFailures int           `toml:"gc_max_failures"`

	Handler        HandlerKind `toml:"handler"`
	BootstrapPeers []string    `toml:"bootstrap_peers"`
}

// Default returns a Config populated with spec.md's reference defaults
// (§8: N=2, max_neighbours=4 in the literal scenarios; §4.B/§4.G name
// the production defaults used here).
func Default() Config {
	return Config{
		ListenAddress:  "0.0.0.0:7890",
		SocketPath:     "/run/kipa/kipad.sock",
		MaxNeighbours:  36,
		ReplySize:      4,
		Alpha:          1,
		Beta:           1,
		MaxConcurrency: 2,
		QueryTimeout:   5 * time.Second,
		GCInterval:     60 * time.Second,
		GCMaxFailures:  3,
		Handler:        HandlerGraph,
	}
}

// Load reads and parses a TOML config file at path, filling unset
// fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load and CLI flag parsing both rely on.
func (c Config) Validate() error {
	if c.MaxNeighbours <= 0 {
		return fmt.Errorf("config: max_neighbours must be positive, got %d", c.MaxNeighbours)
	}
	if c.ReplySize <= 0 {
		return fmt.Errorf("config: reply_size must be positive, got %d", c.ReplySize)
	}
	switch c.Handler {
	case HandlerGraph, HandlerBlackhole, HandlerRandom:
	default:
		return fmt.Errorf("config: unknown handler %q", c.Handler)
	}
	return nil
}
