package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/wire"
)

const (
	// ExecutePath is the HTTP route peers serve envelopes on.
	ExecutePath = "/_actions/execute"
	// ContentTypeEnvelope is the media type of request and reply envelopes.
	ContentTypeEnvelope = "application/x-protobuf"

	forwardedHeader = "X-Pulsar-Forwarded"
)

// HTTPTransport posts envelopes to a peer's ExecutePath.
type HTTPTransport struct {
	client *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	_, base, err := ParsePeer(peer)
	if err != nil {
		return nil, err
	}
	target := strings.TrimRight(base, "/") + ExecutePath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeEnvelope)
	req.Header.Set("Accept", ContentTypeEnvelope)
	req.Header.Set(forwardedHeader, "true")
	observability.InjectHTTPHeaders(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, wire.MaxEnvelopeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("peer returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// Close drops idle keep-alive connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// HTTPHandler serves envelopes posted to ExecutePath.
func (s *Server) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, wire.MaxEnvelopeBytes+1))
		if err != nil {
			http.Error(w, "read request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) > wire.MaxEnvelopeBytes {
			http.Error(w, "envelope too large", http.StatusRequestEntityTooLarge)
			return
		}

		reply := s.Handle(r.Context(), body)
		w.Header().Set("Content-Type", ContentTypeEnvelope)
		w.WriteHeader(http.StatusOK)
		w.Write(reply)
	})
}
