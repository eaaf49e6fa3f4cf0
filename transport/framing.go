package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// maxFrameSize bounds a single frame to guard against a peer claiming an
// unbounded length prefix.
const maxFrameSize = 16 << 20 // 16 MiB

// writeFrame writes payload snappy-compressed and length-prefixed:
// a 4-byte big-endian length followed by that many compressed bytes.
func writeFrame(w io.Writer, payload []byte) error {
	compressed := snappy.Encode(nil, payload)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed, snappy-compressed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("transport: decompress frame: %w", err)
	}
	return payload, nil
}
