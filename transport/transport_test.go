package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello neighbour, this is a request frame")

	require.NoError(t, writeFrame(&buf, payload))
	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(lenBuf)
	_, err := readFrame(&buf)
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestTCPRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server := NewTCP(addr, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx, func(_ context.Context, _ string, frame []byte) ([]byte, error) {
			return append([]byte("echo:"), frame...), nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	client := NewTCP("", logger)
	reply, err := client.SendRequest(context.Background(), addr, []byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))

	cancel()
	_ = server.Close()
}

func TestTCPSendRequestFailsWithoutServer(t *testing.T) {
	client := NewTCP("", zap.NewNop())
	port := freePort(t)
	_, err := client.SendRequest(context.Background(), fmt.Sprintf("127.0.0.1:%d", port), []byte("x"), 200*time.Millisecond)
	assert.Error(t, err)
}
