package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
)

// Unix is a Transport over a Unix domain socket, used for local
// CLI-to-daemon traffic (spec.md §6).
type Unix struct {
	socketPath string
	logger     *zap.Logger

	listener net.Listener
}

// NewUnix constructs a Unix transport bound to socketPath.
func NewUnix(socketPath string, logger *zap.Logger) *Unix {
	return &Unix{socketPath: socketPath, logger: logger}
}

func (u *Unix) SendRequest(ctx context.Context, peerAddr string, frame []byte, timeout time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", peerAddr)
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

func (u *Unix) Serve(ctx context.Context, handler Handler) error {
	_ = os.Remove(u.socketPath)
	ln, err := net.Listen("unix", u.socketPath)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", u.socketPath, err)
	}
	u.listener = ln

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
		go u.handleConn(ctx, conn, handler)
	}
}

func (u *Unix) handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	frame, err := readFrame(conn)
	if err != nil {
		u.logger.Debug("dropping inbound connection", zap.Error(err))
		return
	}
	reply, err := handler(ctx, u.socketPath, frame)
	if err != nil {
		u.logger.Debug("handler rejected frame", zap.Error(err))
		return
	}
	if err := writeFrame(conn, reply); err != nil {
		u.logger.Debug("failed writing reply", zap.Error(err))
	}
}

func (u *Unix) Close() error {
	if u.listener == nil {
		return nil
	}
	err := u.listener.Close()
	_ = os.Remove(u.socketPath)
	return err
}
