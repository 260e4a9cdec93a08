package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
)

func TestCodec_SendReceive(t *testing.T) {
	// Create a pipe to simulate a network connection
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sendCodec := NewCodec(client)
	recvCodec := NewCodec(server)

	sent := []byte{0x0a, 0x11, 'h', 'e', 'l', 'l', 'o'}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sendCodec.Send(sent)
	}()

	received, err := recvCodec.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !bytes.Equal(received, sent) {
		t.Fatalf("expected %x, got %x", sent, received)
	}
}

func TestCodec_EmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf)
	if err := c.Send(nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty frame, got %x", got)
	}
}

func TestCodec_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameBytes+1)
	buf.Write(header[:])

	if _, err := NewCodec(&buf).Receive(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if err := NewCodec(&buf).Send(make([]byte, MaxFrameBytes+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestCodec_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 10)
	buf.Write(header[:])
	buf.WriteString("abc")

	if _, err := NewCodec(&buf).Receive(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}
