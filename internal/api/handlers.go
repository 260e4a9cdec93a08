package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/sample"
	"github.com/oriys/pulsar/internal/scheduler"
)

// Handler serves the hello-world routes, the action listing and health.
type Handler struct {
	Client    *dispatch.Client
	Peer      *cluster.Server
	Scheduler *scheduler.Scheduler
	Breakers  *cluster.BreakerTransport
	Checks    map[string]HealthCheck
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Greetings
	mux.HandleFunc("GET /hello/{name}", h.Hello)
	mux.HandleFunc("GET /hello/{name}/remote", h.HelloRemote)

	// Registry and schedules
	mux.HandleFunc("GET /actions", h.Actions)
	mux.HandleFunc("GET /schedules", h.Schedules)
	mux.HandleFunc("PUT /schedule/hello", h.ScheduleHello)
	mux.HandleFunc("GET /peers", h.Peers)

	// Health and observability
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /stats", metrics.Global().JSONHandler())
	mux.Handle("GET /metrics", metrics.PrometheusHandler())

	// Peer endpoint
	if h.Peer != nil {
		mux.Handle("POST "+cluster.ExecutePath, h.Peer.HTTPHandler())
	}
}

// Hello handles GET /hello/{name}. The action runs locally or on its peer,
// whichever the registry says.
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	req := &sample.SampleRequest{Name: r.PathValue("name")}
	observability.TagRequest(r.Context(), observability.AttrAction.String(string(sample.ActionName)))

	var opts []dispatch.CallOption
	if peer := r.URL.Query().Get("peer"); peer != "" {
		opts = append(opts, dispatch.WithRemote(peer))
	}

	resp, err := dispatch.Call[*sample.SampleResponse](r.Context(), h.Client, sample.ActionName, req, 0, opts...)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"greeting": resp.Greeting})
}

// HelloRemote handles GET /hello/{name}/remote. A failure reported by the
// peer is rendered in the body with status 200; only failures to reach the
// peer map to an error status.
func (h *Handler) HelloRemote(w http.ResponseWriter, r *http.Request) {
	req := &sample.SampleRequest{Name: r.PathValue("name")}
	observability.TagRequest(r.Context(),
		observability.AttrAction.String(string(sample.ActionName)),
		observability.AttrRoute.String(metrics.RouteRemote),
	)

	res, err := h.Client.Proxy(r.Context(), sample.SampleAction, req, r.URL.Query().Get("peer"))
	if err != nil {
		writeActionError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if res.Failure != nil {
		fmt.Fprintf(w, "Remote extension response failed: %v", res.Failure)
		return
	}
	resp, ok := res.Response.(*sample.SampleResponse)
	if !ok {
		writeActionError(w, r, action.SchemaMismatchError("helloworld.SampleResponse", res.Response.Schema()))
		return
	}
	fmt.Fprintf(w, "Received greeting from remote extension: %s", resp.Greeting)
}

type actionInfo struct {
	Name   string `json:"name"`
	Route  string `json:"route"`
	Served bool   `json:"served,omitempty"`
}

// Actions handles GET /actions
func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	reg := h.Client.Registry()
	served := map[action.Identifier]bool{}
	var servedOnly []action.Identifier
	if h.Peer != nil {
		for _, id := range h.Peer.Actions() {
			served[id] = true
			if _, ok := reg.Lookup(id); !ok {
				servedOnly = append(servedOnly, id)
			}
		}
	}

	out := make([]actionInfo, 0, reg.Len()+len(servedOnly))
	for _, id := range reg.Names() {
		entry, _ := reg.Lookup(id)
		route := metrics.RouteLocal
		if entry.Remote() {
			route = metrics.RouteRemote
		}
		out = append(out, actionInfo{Name: string(id), Route: route, Served: served[id]})
	}
	for _, id := range servedOnly {
		out = append(out, actionInfo{Name: string(id), Route: cluster.RouteServed, Served: true})
	}
	writeJSON(w, http.StatusOK, out)
}

type scheduleInfo struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Greeting string    `json:"greeting,omitempty"`
	Error    string    `json:"error,omitempty"`
	Runs     int       `json:"runs"`
}

// Schedules handles GET /schedules
func (h *Handler) Schedules(w http.ResponseWriter, r *http.Request) {
	out := []scheduleInfo{}
	if h.Scheduler != nil {
		for _, st := range h.Scheduler.List() {
			info := scheduleInfo{
				Name:     st.Name,
				Spec:     st.Spec,
				Next:     st.Next,
				LastRun:  st.LastRun,
				Greeting: st.Greeting,
				Runs:     st.Runs,
			}
			if st.Err != nil {
				info.Error = st.Err.Error()
			}
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ScheduleHello handles PUT /schedule/hello. The greeting for ?name= (default
// "world") is scheduled once a minute; scheduling the same name again replaces
// the entry and still succeeds.
func (h *Handler) ScheduleHello(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler is disabled"})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "world"
	}
	observability.TagRequest(r.Context(), observability.AttrAction.String(string(sample.ActionName)))
	if err := h.Scheduler.Add(scheduler.DefaultSpec, name); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "GreetJob successfully scheduled")
}

// Peers handles GET /peers
func (h *Handler) Peers(w http.ResponseWriter, r *http.Request) {
	states := map[string]string{}
	if h.Breakers != nil {
		states = h.Breakers.States()
	}
	writeJSON(w, http.StatusOK, states)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"checks":         checks,
		"actions":        h.Client.Registry().Len(),
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// statusFor maps an error to the HTTP status reported to REST callers.
func statusFor(err error) int {
	switch action.KindOf(err) {
	case action.KindInvalidArgument, action.KindSerialization:
		return http.StatusBadRequest
	case action.KindUnknownAction:
		return http.StatusNotFound
	case action.KindTimeout:
		return http.StatusGatewayTimeout
	case action.KindTransport, action.KindRemoteExecution, action.KindDeserialization, action.KindSchemaMismatch:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	observability.TagRequest(r.Context(), observability.AttrErrorKind.String(string(action.KindOf(err))))
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(action.KindOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
