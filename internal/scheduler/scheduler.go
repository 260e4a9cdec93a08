// Package scheduler runs the hello-world action on cron schedules through the
// dispatch client.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oriys/pulsar/internal/dispatch"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/sample"
	"github.com/robfig/cron/v3"
)

// DefaultSpec greets once a minute.
const DefaultSpec = "@every 1m"

// JobStatus is the last known state of a scheduled greeting.
type JobStatus struct {
	Name     string
	Spec     string
	Next     time.Time
	LastRun  time.Time
	Greeting string
	Err      error
	Runs     int
}

type job struct {
	entryID  cron.EntryID
	spec     string
	lastRun  time.Time
	greeting string
	err      error
	runs     int
}

// Scheduler manages cron-scheduled greetings.
type Scheduler struct {
	cron    *cron.Cron
	client  *dispatch.Client
	timeout time.Duration
	jobs    map[string]*job // name -> job
	mu      sync.Mutex
}

// New creates a Scheduler. A timeout <= 0 uses the client default.
func New(client *dispatch.Client, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		client:  client,
		timeout: timeout,
		jobs:    make(map[string]*job),
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	logging.Op().Info("scheduler started", "schedules", n)
}

// Stop stops the cron scheduler and waits for running greetings to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Add schedules a greeting for name. An existing schedule for the same name
// is replaced.
func (s *Scheduler) Add(spec, name string) error {
	if spec == "" {
		spec = DefaultSpec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing entry if present
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, name)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.invoke(name)
	})
	if err != nil {
		return fmt.Errorf("schedule greeting for %q: %w", name, err)
	}

	s.jobs[name] = &job{entryID: entryID, spec: spec}
	return nil
}

// Remove unschedules the greeting for name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, name)
	}
}

// RunNow runs the greeting for name immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no greeting scheduled for %q", name)
	}
	s.invoke(name)
	return nil
}

// Status returns the state of the greeting for name.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return s.status(name, j), true
}

// List returns every scheduled greeting ordered by name.
func (s *Scheduler) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		out = append(out, s.status(name, j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) status(name string, j *job) JobStatus {
	return JobStatus{
		Name:     name,
		Spec:     j.spec,
		Next:     s.cron.Entry(j.entryID).Next,
		LastRun:  j.lastRun,
		Greeting: j.greeting,
		Err:      j.err,
		Runs:     j.runs,
	}
}

func (s *Scheduler) invoke(name string) {
	resp, err := dispatch.Call[*sample.SampleResponse](context.Background(), s.client,
		sample.ActionName, &sample.SampleRequest{Name: name}, s.timeout)

	var greeting string
	if err != nil {
		logging.Op().Error("scheduled greeting failed", "name", name, "error", err)
	} else {
		greeting = resp.Greeting
		logging.Op().Info("scheduled greeting", "name", name, "greeting", greeting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		j.lastRun = time.Now()
		j.greeting = greeting
		j.err = err
		j.runs++
	}
}
