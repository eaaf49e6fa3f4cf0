package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// TCP is a Transport over plain TCP connections. Each request opens a
// fresh connection, writes one frame, reads one reply frame, and
// closes; there is no persistent session state between calls.
type TCP struct {
	listenAddr string
	logger     *zap.Logger

	listener net.Listener
}

// NewTCP constructs a TCP transport that will listen on listenAddr
// once Serve is called. listenAddr may be empty for a client-only
// instance that never calls Serve.
func NewTCP(listenAddr string, logger *zap.Logger) *TCP {
	return &TCP{listenAddr: listenAddr, logger: logger}
}

func (t *TCP) SendRequest(ctx context.Context, peerAddr string, frame []byte, timeout time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", peerAddr, err)
	}
	defer conn.Close()

	if deadline, ok := deadlineFor(ctx, timeout); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, frame); err != nil {
		return nil, err
	}
	reply, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", peerAddr, err)
	}
	return reply, nil
}

func (t *TCP) Serve(ctx context.Context, handler Handler) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", t.listenAddr, err)
	}
	t.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		go t.handleConn(ctx, conn, handler)
	}
}

func (t *TCP) handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	frame, err := readFrame(conn)
	if err != nil {
		t.logger.Debug("dropping inbound connection", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	reply, err := handler(ctx, conn.RemoteAddr().String(), frame)
	if err != nil {
		t.logger.Debug("handler rejected frame", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	if err := writeFrame(conn, reply); err != nil {
		t.logger.Debug("failed writing reply", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
	}
}

func (t *TCP) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func deadlineFor(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	if d, ok := ctx.Deadline(); ok {
		return d, true
	}
	if timeout > 0 {
		return time.Now().Add(timeout), true
	}
	return time.Time{}, false
}
