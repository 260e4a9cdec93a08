package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Transport sends one request envelope to a peer and returns the peer's
// reply envelope. Implementations must not retry.
type Transport interface {
	Send(ctx context.Context, peer string, envelope []byte) ([]byte, error)
}

// Peer address schemes
const (
	SchemeGRPC  = "grpc"
	SchemeHTTP  = "http"
	SchemeTCP   = "tcp"
	SchemeVsock = "vsock"
	SchemeLocal = "local"
)

var (
	ErrEmptyPeer         = errors.New("empty peer address")
	ErrUnsupportedScheme = errors.New("unsupported peer address scheme")
)

// ParsePeer splits a peer address into its transport scheme and the address
// the transport dials. Bare host:port and grpc:// select gRPC; http(s)://
// URLs are kept whole for the HTTP transport.
func ParsePeer(raw string) (scheme, addr string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", ErrEmptyPeer
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return SchemeHTTP, raw, nil
	case strings.HasPrefix(raw, "grpc://"):
		return SchemeGRPC, strings.TrimPrefix(raw, "grpc://"), nil
	case strings.HasPrefix(raw, "tcp://"):
		return SchemeTCP, strings.TrimPrefix(raw, "tcp://"), nil
	case strings.HasPrefix(raw, "vsock://"):
		return SchemeVsock, strings.TrimPrefix(raw, "vsock://"), nil
	case strings.HasPrefix(raw, "local://"):
		return SchemeLocal, strings.TrimPrefix(raw, "local://"), nil
	case strings.Contains(raw, "://"):
		scheme, _, _ := strings.Cut(raw, "://")
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	default:
		return SchemeGRPC, raw, nil
	}
}

// TransportOptions configures the default transports built by Dial.
type TransportOptions struct {
	// Timeout bounds connection setup and, for HTTP, the whole request.
	Timeout time.Duration
	// Local serves local:// peers in-process. Optional.
	Local *LocalTransport
}

// MultiTransport routes each envelope to the transport matching the peer
// address scheme.
type MultiTransport struct {
	GRPC   Transport
	HTTP   Transport
	Stream Transport
	Local  Transport
}

var _ Transport = (*MultiTransport)(nil)

// Dial builds a MultiTransport with the gRPC, HTTP and stream transports.
func Dial(opts TransportOptions) *MultiTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	m := &MultiTransport{
		GRPC:   NewGRPCTransport(),
		HTTP:   NewHTTPTransport(opts.Timeout),
		Stream: NewStreamTransport(opts.Timeout),
	}
	if opts.Local != nil {
		m.Local = opts.Local
	}
	return m
}

// Send implements Transport.
func (m *MultiTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	scheme, _, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}

	var t Transport
	switch scheme {
	case SchemeGRPC:
		t = m.GRPC
	case SchemeHTTP:
		t = m.HTTP
	case SchemeTCP, SchemeVsock:
		t = m.Stream
	case SchemeLocal:
		t = m.Local
	}
	if t == nil {
		return nil, fmt.Errorf("%w: no %s transport configured", ErrUnsupportedScheme, scheme)
	}
	return t.Send(ctx, peer, envelope)
}

// Close releases cached connections held by the underlying transports.
func (m *MultiTransport) Close() error {
	var errs []error
	for _, t := range []Transport{m.GRPC, m.HTTP, m.Stream, m.Local} {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
