// Package scheduler runs named unique jobs, once or on an interval.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is what one unit of work reports back
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	ResultRetry
)

func (r Result) String() string {
	switch r {
	case ResultFailure:
		return "failure"
	case ResultRetry:
		return "retry"
	default:
		return "success"
	}
}

// Func is a unit of work. It must return promptly once ctx is done.
type Func func(ctx context.Context) Result

const (
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
	DefaultMaxRetries  = 3
)

type job struct {
	name   string
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler holds at most one running instance per job name
type Scheduler struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxRetries  int

	// opMu serializes enqueue and cancel so a replaced instance has exited
	// before its successor starts
	opMu sync.Mutex

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// New creates a scheduler with the default retry policy
func New() *Scheduler {
	return &Scheduler{
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
		MaxRetries:  DefaultMaxRetries,
		jobs:        make(map[string]*job),
	}
}

// EnqueueOnce runs fn once under name, replacing any instance with that name
func (s *Scheduler) EnqueueOnce(name string, fn Func) string {
	return s.enqueue(name, func(ctx context.Context, j *job) {
		r := s.runUnit(ctx, j, fn)
		log.Printf("scheduler: %s (%s) finished: %s", j.name, j.runID, r)
	})
}

// EnqueuePeriodic runs fn every interval after initialDelay, replacing any
// instance with that name. The schedule continues after failed units.
func (s *Scheduler) EnqueuePeriodic(name string, interval, initialDelay time.Duration, fn Func) string {
	return s.enqueue(name, func(ctx context.Context, j *job) {
		if !sleep(ctx, initialDelay) {
			return
		}
		for {
			r := s.runUnit(ctx, j, fn)
			log.Printf("scheduler: %s (%s) run finished: %s", j.name, j.runID, r)
			if !sleep(ctx, interval) {
				return
			}
		}
	})
}

func (s *Scheduler) enqueue(name string, body func(ctx context.Context, j *job)) string {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.cancelAndWait(name)

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		name:   name,
		runID:  uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[name] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(j.done)
		defer cancel()
		defer s.remove(j)
		body(ctx, j)
	}()

	log.Printf("scheduler: enqueued %s (%s)", name, j.runID)
	return j.runID
}

// runUnit runs fn, re-running it with exponential backoff while it asks for a retry
func (s *Scheduler) runUnit(ctx context.Context, j *job, fn Func) Result {
	for attempt := 0; ; attempt++ {
		r := fn(ctx)
		if r != ResultRetry {
			return r
		}
		if attempt >= s.MaxRetries {
			log.Printf("scheduler: %s (%s) gave up after %d retries", j.name, j.runID, attempt)
			return r
		}
		delay := s.backoff(attempt)
		log.Printf("scheduler: %s (%s) retrying in %s", j.name, j.runID, delay)
		if !sleep(ctx, delay) {
			return r
		}
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.MaxBackoff {
			return s.MaxBackoff
		}
	}
	if s.MaxBackoff > 0 && d > s.MaxBackoff {
		return s.MaxBackoff
	}
	return d
}

func (s *Scheduler) remove(j *job) {
	s.mu.Lock()
	if s.jobs[j.name] == j {
		delete(s.jobs, j.name)
	}
	s.mu.Unlock()
}

func (s *Scheduler) cancelAndWait(name string) {
	s.mu.Lock()
	old := s.jobs[name]
	s.mu.Unlock()
	if old == nil {
		return
	}
	old.cancel()
	<-old.done
}

// Cancel stops the named job and waits for it to exit
func (s *Scheduler) Cancel(name string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.cancelAndWait(name)
}

// CancelAll stops every job and waits for them to exit
func (s *Scheduler) CancelAll() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.cancelAndWait(name)
	}
}

// IsScheduled reports whether a job with that name is pending or running
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Stop cancels everything and waits for all goroutines
func (s *Scheduler) Stop() {
	s.CancelAll()
	s.wg.Wait()
}

// sleep waits for d or until ctx is done; it reports whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
