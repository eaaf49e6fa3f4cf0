// Command kipad runs the KIPA daemon and its CLI surface: connect,
// search and list-neighbours (spec.md §6).
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mishajw/kipa/internal/config"
	"github.com/mishajw/kipa/wire"
	"github.com/mishajw/kipa/world"
)

// Exit codes per spec.md §6.
const (
	exitOK            = 0
	exitNotFound      = 1
	exitConfigError   = 2
	exitProtocolError = 3
)

func main() {
	app := &cli.App{
		Name:  "kipad",
		Usage: "distributed public-key-to-address lookup daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "/etc/kipa/kipad.toml", Usage: "path to the daemon's TOML config file"},
			&cli.StringFlag{Name: "identity", Value: "/etc/kipa/identity.pgp", Usage: "path to the node's OpenPGP private key packet"},
			&cli.StringFlag{Name: "socket", Usage: "override the daemon's Unix control socket path"},
		},
		Commands: []*cli.Command{
			serveCommand,
			connectCommand,
			searchCommand,
			listNeighboursCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitProtocolError)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the daemon in the foreground",
	Action: func(c *cli.Context) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer logger.Sync()

		cfg, err := config.Load(c.String("config"))
		if err != nil {
			logger.Error("failed to load config", zap.Error(err))
			os.Exit(exitConfigError)
		}

		self, private, err := loadIdentity(c.String("identity"), cfg.ListenAddress)
		if err != nil {
			logger.Error("failed to load identity", zap.Error(err))
			os.Exit(exitConfigError)
		}

		w, err := world.New(self, private, cfg, logger)
		if err != nil {
			logger.Error("failed to assemble world", zap.Error(err))
			os.Exit(exitConfigError)
		}
		defer w.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger.Info("kipad listening", zap.String("address", cfg.ListenAddress))
		if err := w.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("serve failed", zap.Error(err))
			return err
		}
		return nil
	},
}

var connectCommand = &cli.Command{
	Name:  "connect",
	Usage: "bootstrap the local neighbour store from an initial peer",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key-id", Required: true, Usage: "hex-encoded canonical public key of the initial peer"},
		&cli.StringFlag{Name: "address", Required: true, Usage: "host:port of the initial peer"},
	},
	Action: func(c *cli.Context) error {
		w, logger, err := dialControlWorld(c)
		if err != nil {
			return exitWith(exitConfigError, err)
		}
		defer w.Close()

		host, portStr, err := net.SplitHostPort(c.String("address"))
		if err != nil {
			return exitWith(exitConfigError, fmt.Errorf("invalid --address: %w", err))
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return exitWith(exitConfigError, fmt.Errorf("invalid port: %w", err))
		}
		keyBytes, err := hex.DecodeString(c.String("key-id"))
		if err != nil {
			return exitWith(exitConfigError, fmt.Errorf("invalid --key-id: %w", err))
		}
		initial := wire.Node{
			Key:     wire.NewPublicKey(keyBytes),
			Address: wire.Address{Host: net.ParseIP(host), Port: uint16(port)},
		}

		if err := w.Connect(c.Context, initial); err != nil {
			logger.Error("connect failed", zap.Error(err))
			return exitWith(exitProtocolError, err)
		}
		fmt.Println("connected")
		return nil
	},
}

var searchCommand = &cli.Command{
	Name:  "search",
	Usage: "look up the address bound to a public key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "key-id", Required: true},
		&cli.StringFlag{Name: "print", Value: "both", Usage: "one of: ip, port, both"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
	},
	Action: func(c *cli.Context) error {
		w, _, err := dialControlWorld(c)
		if err != nil {
			return exitWith(exitConfigError, err)
		}
		defer w.Close()

		target := wire.NewPublicKey([]byte(c.String("key-id")))
		found, ok := w.Search(c.Context, target, c.Duration("timeout"))
		if !ok {
			os.Exit(exitNotFound)
		}

		switch c.String("print") {
		case "ip":
			fmt.Println(found.Address.Host.String())
		case "port":
			fmt.Println(found.Address.Port)
		default:
			fmt.Println(found.Address.String())
		}
		return nil
	},
}

var listNeighboursCommand = &cli.Command{
	Name:  "list-neighbours",
	Usage: "print the local node's current neighbour set",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "emit machine-readable JSON instead of a table"},
	},
	Action: func(c *cli.Context) error {
		w, _, err := dialControlWorld(c)
		if err != nil {
			return exitWith(exitConfigError, err)
		}
		defer w.Close()

		nodes := w.ListNeighbours()
		if c.Bool("json") {
			return json.NewEncoder(os.Stdout).Encode(nodes)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Key", "Address"})
		for _, n := range nodes {
			t.AppendRow(table.Row{n.Key.String(), n.Address.String()})
		}
		t.Render()
		return nil
	},
}

// dialControlWorld loads config and identity for a CLI sub-command and
// assembles a fresh in-process World from them. It does not connect to
// an already-running daemon or its control socket, and the --socket
// flag is not read: the sub-command acts on the new World, whose
// neighbour store starts empty.
func dialControlWorld(c *cli.Context) (*world.World, *zap.Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	self, private, err := loadIdentity(c.String("identity"), cfg.ListenAddress)
	if err != nil {
		return nil, nil, err
	}
	w, err := world.New(self, private, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return w, logger, nil
}

// loadIdentity reads the node's OpenPGP private key packet from disk
// and derives its self Node at the given listen address.
func loadIdentity(path, listenAddress string) (wire.Node, *packet.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wire.Node{}, nil, fmt.Errorf("read identity: %w", err)
	}
	p, err := packet.Read(bytes.NewReader(data))
	if err != nil {
		return wire.Node{}, nil, fmt.Errorf("parse identity: %w", err)
	}
	priv, ok := p.(*packet.PrivateKey)
	if !ok {
		return wire.Node{}, nil, fmt.Errorf("identity file does not contain a private key packet")
	}

	var pubBuf bytes.Buffer
	if err := priv.PublicKey.Serialize(&pubBuf); err != nil {
		return wire.Node{}, nil, fmt.Errorf("serialize public key: %w", err)
	}
	pk := wire.NewPublicKey(pubBuf.Bytes())

	host, portStr, err := net.SplitHostPort(listenAddress)
	if err != nil {
		return wire.Node{}, nil, fmt.Errorf("invalid listen_address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return wire.Node{}, nil, fmt.Errorf("invalid listen_address port: %w", err)
	}

	self := wire.Node{Key: pk, Address: wire.Address{Host: resolveHost(host), Port: uint16(port)}}
	return self, priv, nil
}

func resolveHost(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}

func exitWith(code int, err error) error {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(code)
	return nil
}
