package api

import (
	"context"
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/scheduler"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Client    *dispatch.Client
	Peer      *cluster.Server           // Optional: serves POST /_actions/execute
	Scheduler *scheduler.Scheduler      // Optional: lists scheduled greetings
	Breakers  *cluster.BreakerTransport // Optional: reports peer circuit states
	Checks    map[string]HealthCheck
}

// NewHandler builds the REST routes wrapped with tracing.
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	h := &Handler{
		Client:    cfg.Client,
		Peer:      cfg.Peer,
		Scheduler: cfg.Scheduler,
		Breakers:  cfg.Breakers,
		Checks:    cfg.Checks,
	}
	h.RegisterRoutes(mux)

	// Wrap with tracing middleware
	return observability.HTTPMiddleware(mux)
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	logging.Op().Info("HTTP server started", "addr", addr)
	return server
}
