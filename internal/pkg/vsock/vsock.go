// Package vsock dials and listens on AF_VSOCK addresses written as
// "cid:port".
package vsock

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// ParseAddr splits "cid:port" into its numeric parts.
func ParseAddr(addr string) (cid, port uint32, err error) {
	host, p, ok := strings.Cut(addr, ":")
	if !ok {
		return 0, 0, fmt.Errorf("vsock address %q: expected cid:port", addr)
	}
	c, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad cid: %w", addr, err)
	}
	n, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad port: %w", addr, err)
	}
	return uint32(c), uint32(n), nil
}

// Dial connects to a vsock address. The dial is abandoned, not interrupted,
// when ctx is done first.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	cid, port, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Listen creates a vsock listener on the specified port of the local CID.
func Listen(port uint32) (net.Listener, error) {
	return vsock.Listen(port, nil)
}
