package metrics

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_RecordDispatch(t *testing.T) {
	m := newMetrics()
	m.RecordDispatch("helloworld/sample", RouteLocal, 5, true)
	m.RecordDispatch("helloworld/sample", RouteRemote, 15, false)
	m.RecordTimeout("helloworld/sample")
	m.RecordLateCompletion("helloworld/sample")

	if got := m.TotalDispatches.Load(); got != 2 {
		t.Fatalf("expected 2 dispatches, got %d", got)
	}
	if m.SuccessDispatches.Load() != 1 || m.FailedDispatches.Load() != 1 {
		t.Fatalf("unexpected success/failure counts %d/%d", m.SuccessDispatches.Load(), m.FailedDispatches.Load())
	}
	if m.LocalDispatches.Load() != 1 || m.RemoteDispatches.Load() != 1 {
		t.Fatalf("unexpected route counts %d/%d", m.LocalDispatches.Load(), m.RemoteDispatches.Load())
	}
	if m.MinLatencyMs.Load() != 5 || m.MaxLatencyMs.Load() != 15 {
		t.Fatalf("unexpected latency bounds %d/%d", m.MinLatencyMs.Load(), m.MaxLatencyMs.Load())
	}

	stats := m.ActionStats()["helloworld/sample"].(map[string]interface{})
	if stats["timeouts"].(int64) != 1 {
		t.Fatalf("expected 1 timeout, got %v", stats["timeouts"])
	}
	if stats["avg_ms"].(float64) != 10 {
		t.Fatalf("expected avg 10ms, got %v", stats["avg_ms"])
	}
}

func TestMetrics_EmptySnapshot(t *testing.T) {
	snap := newMetrics().Snapshot()
	latency := snap["latency_ms"].(map[string]interface{})
	if latency["min"].(int64) != 0 {
		t.Fatalf("expected min 0 for empty metrics, got %v", latency["min"])
	}
}

func TestMetrics_JSONHandler(t *testing.T) {
	m := newMetrics()
	m.RecordDispatch("a", RouteLocal, 1, true)

	rec := httptest.NewRecorder()
	m.JSONHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["actions"].(map[string]interface{})["a"]; !ok {
		t.Fatalf("expected action stats in %s", rec.Body.String())
	}
}

func TestPrometheus_Handler(t *testing.T) {
	InitPrometheus("pulsar_test", nil)
	t.Cleanup(func() { promMetrics = nil })

	m := newMetrics()
	m.RecordDispatch("helloworld/sample", RouteLocal, 3, true)
	m.RecordTimeout("helloworld/sample")
	RecordPeerRequest("grpc", 2, errors.New("boom"))

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`pulsar_test_actions_dispatched_total{action="helloworld/sample",outcome="success",route="local"} 1`,
		`pulsar_test_action_timeouts_total{action="helloworld/sample"} 1`,
		`pulsar_test_peer_requests_total{status="error",transport="grpc"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestPrometheus_HandlerUninitialized(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
