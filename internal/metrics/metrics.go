package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Route labels
const (
	RouteLocal  = "local"
	RouteRemote = "remote"
)

// Metrics collects in-process dispatch counters for the JSON stats endpoint
type Metrics struct {
	TotalDispatches   atomic.Int64
	SuccessDispatches atomic.Int64
	FailedDispatches  atomic.Int64
	LocalDispatches   atomic.Int64
	RemoteDispatches  atomic.Int64
	Timeouts          atomic.Int64
	LateCompletions   atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	actionMetrics sync.Map // action -> *ActionMetrics

	startTime time.Time
}

// ActionMetrics tracks metrics for a single action
type ActionMetrics struct {
	Dispatches atomic.Int64
	Successes  atomic.Int64
	Failures   atomic.Int64
	Timeouts   atomic.Int64
	TotalMs    atomic.Int64
	MinMs      atomic.Int64
	MaxMs      atomic.Int64
}

var global = newMetrics()

func newMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	return m
}

// Global returns the process-wide metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns when metrics collection started
func StartTime() time.Time {
	return global.startTime
}

// RecordDispatch records one settled dispatch, in memory and in Prometheus
func (m *Metrics) RecordDispatch(action, route string, durationMs int64, success bool) {
	m.TotalDispatches.Add(1)
	m.TotalLatencyMs.Add(durationMs)
	if success {
		m.SuccessDispatches.Add(1)
	} else {
		m.FailedDispatches.Add(1)
	}
	if route == RouteRemote {
		m.RemoteDispatches.Add(1)
	} else {
		m.LocalDispatches.Add(1)
	}
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	am := m.getActionMetrics(action)
	am.Dispatches.Add(1)
	am.TotalMs.Add(durationMs)
	if success {
		am.Successes.Add(1)
	} else {
		am.Failures.Add(1)
	}
	updateMin(&am.MinMs, durationMs)
	updateMax(&am.MaxMs, durationMs)

	recordPrometheusDispatch(action, route, durationMs, success)
}

// RecordTimeout records a call settled by its deadline
func (m *Metrics) RecordTimeout(action string) {
	m.Timeouts.Add(1)
	m.getActionMetrics(action).Timeouts.Add(1)
	recordPrometheusTimeout(action)
}

// RecordLateCompletion records a result that arrived after its call settled
func (m *Metrics) RecordLateCompletion(action string) {
	m.LateCompletions.Add(1)
	recordPrometheusLateCompletion(action)
}

func (m *Metrics) getActionMetrics(action string) *ActionMetrics {
	if v, ok := m.actionMetrics.Load(action); ok {
		return v.(*ActionMetrics)
	}
	am := &ActionMetrics{}
	am.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.actionMetrics.LoadOrStore(action, am)
	return actual.(*ActionMetrics)
}

// Snapshot returns a point-in-time view of the counters
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalDispatches.Load()
	minLatency := m.MinLatencyMs.Load()
	if total == 0 {
		minLatency = 0
	}
	var avg float64
	if total > 0 {
		avg = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"dispatches": map[string]interface{}{
			"total":   total,
			"success": m.SuccessDispatches.Load(),
			"failed":  m.FailedDispatches.Load(),
			"local":   m.LocalDispatches.Load(),
			"remote":  m.RemoteDispatches.Load(),
		},
		"timeouts":         m.Timeouts.Load(),
		"late_completions": m.LateCompletions.Load(),
		"latency_ms": map[string]interface{}{
			"avg": avg,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
	}
}

// ActionStats returns per-action counters keyed by action identifier
func (m *Metrics) ActionStats() map[string]interface{} {
	out := make(map[string]interface{})
	m.actionMetrics.Range(func(key, value any) bool {
		am := value.(*ActionMetrics)
		dispatches := am.Dispatches.Load()
		minMs := am.MinMs.Load()
		if dispatches == 0 {
			minMs = 0
		}
		var avg float64
		if dispatches > 0 {
			avg = float64(am.TotalMs.Load()) / float64(dispatches)
		}
		out[key.(string)] = map[string]interface{}{
			"dispatches": dispatches,
			"successes":  am.Successes.Load(),
			"failures":   am.Failures.Load(),
			"timeouts":   am.Timeouts.Load(),
			"avg_ms":     avg,
			"min_ms":     minMs,
			"max_ms":     am.MaxMs.Load(),
		}
		return true
	})
	return out
}

// JSONHandler serves Snapshot plus per-action stats as JSON
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.Snapshot()
		snap["actions"] = m.ActionStats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value >= current {
			return
		}
		if target.CompareAndSwap(current, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value <= current {
			return
		}
		if target.CompareAndSwap(current, value) {
			return
		}
	}
}
