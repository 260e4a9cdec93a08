// Package frame reads and writes length-prefixed messages on a stream
// connection.
//
// Every frame is a 4-byte big-endian length followed by that many bytes of
// payload. Frames larger than MaxFrameBytes are rejected on both sides.
//
// Usage:
//
//	codec := frame.NewCodec(conn)
//	codec.Send(envelope)
//	reply, err := codec.Receive()
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame payload.
const MaxFrameBytes = 8 * 1024 * 1024

// ErrFrameTooLarge is returned for frames above MaxFrameBytes.
var ErrFrameTooLarge = errors.New("frame too large")

// Codec handles framing over a byte stream.
type Codec struct {
	rw io.ReadWriter
}

// NewCodec creates a new codec wrapping the given connection.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// Send writes data with a 4-byte big-endian length prefix in a single write.
func (c *Codec) Send(data []byte) error {
	if len(data) > MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	_, err := c.rw.Write(buf)
	return err
}

// Receive reads one length-prefixed frame.
func (c *Codec) Receive() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.rw, lenBuf[:]); err != nil {
		return nil, err
	}

	msgLen := binary.BigEndian.Uint32(lenBuf[:])
	if msgLen > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(c.rw, data); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return data, nil
}
