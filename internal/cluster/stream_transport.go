package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/pkg/frame"
	"github.com/oriys/pulsar/internal/pkg/vsock"
)

// StreamTransport exchanges length-prefixed envelopes over a fresh TCP or
// vsock connection per call.
type StreamTransport struct {
	dialer net.Dialer
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport creates a stream transport with the given dial timeout.
func NewStreamTransport(timeout time.Duration) *StreamTransport {
	return &StreamTransport{dialer: net.Dialer{Timeout: timeout}}
}

// Send implements Transport.
func (t *StreamTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	scheme, addr, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	switch scheme {
	case SchemeTCP:
		conn, err = t.dialer.DialContext(ctx, "tcp", addr)
	case SchemeVsock:
		conn, err = vsock.Dial(ctx, addr)
	default:
		return nil, fmt.Errorf("%w: stream transport cannot dial %s", ErrUnsupportedScheme, scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s peer %s: %w", scheme, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	codec := frame.NewCodec(conn)
	if err := codec.Send(envelope); err != nil {
		return nil, fmt.Errorf("send envelope: %w", err)
	}
	reply, err := codec.Receive()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("receive reply: %w", ctxErr)
		}
		return nil, fmt.Errorf("receive reply: %w", err)
	}
	return reply, nil
}

// ServeStream answers framed envelopes on every connection accepted from ln
// until ctx is done. Each connection may carry any number of sequential
// request/reply exchanges.
func (s *Server) ServeStream(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	codec := frame.NewCodec(conn)
	for {
		envelope, err := codec.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logging.Op().Debug("stream peer connection ended", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if err := codec.Send(s.Handle(ctx, envelope)); err != nil {
			logging.Op().Debug("stream reply failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}
