package scheduler

import (
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/action"
	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/sample"
)

func newClient(t *testing.T) *dispatch.Client {
	t.Helper()
	reg := action.NewRegistry()
	if err := sample.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Seal()
	return dispatch.New(reg)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(newClient(t), time.Second)
	if err := s.Add("", "world"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow("world"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	st, ok := s.Status("world")
	if !ok {
		t.Fatal("expected status")
	}
	if st.Spec != DefaultSpec || st.Runs != 1 || st.Greeting != "Hello, world" || st.Err != nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if err := s.RunNow("nobody"); err == nil {
		t.Fatal("expected error for unscheduled name")
	}
}

func TestScheduler_RecordsFailure(t *testing.T) {
	s := New(newClient(t), time.Second)
	if err := s.Add("@every 1h", " "); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.RunNow(" ")
	st, _ := s.Status(" ")
	if !action.IsKind(st.Err, action.KindInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", st.Err)
	}
}

func TestScheduler_AddReplaceRemove(t *testing.T) {
	s := New(newClient(t), time.Second)
	if err := s.Add("not a spec", "world"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := s.Add("@every 1h", "world"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("*/5 * * * *", "world"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := s.List(); len(got) != 1 || got[0].Spec != "*/5 * * * *" {
		t.Fatalf("expected replaced schedule, got %+v", got)
	}
	s.Remove("world")
	if len(s.List()) != 0 {
		t.Fatal("expected no schedules")
	}
}

func TestScheduler_Fires(t *testing.T) {
	s := New(newClient(t), time.Second)
	if err := s.Add("@every 1s", "cron"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := s.Status("cron"); st.Runs > 0 {
			if st.Greeting != "Hello, cron" {
				t.Fatalf("unexpected greeting %q", st.Greeting)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled greeting never ran")
}
