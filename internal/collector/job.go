// Package collector implements the background collection unit: it re-fetches
// the last tracked route and feeds the result through the engine, bounded by
// a collection cap and a minimum interval between periodic runs.
package collector

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/engine"
	"github.com/pranav412-code/Flight-Tracker/internal/flightapi"
	"github.com/pranav412-code/Flight-Tracker/internal/scheduler"
	"github.com/pranav412-code/Flight-Tracker/internal/stats"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// Defaults used when Config leaves a field at zero
const (
	DefaultMaxCollections = 10
	DefaultRetention      = 30 * 24 * time.Hour
)

// Kind tells the job how it was triggered
type Kind int

const (
	KindPeriodic Kind = iota
	KindOneShot
)

func (k Kind) String() string {
	if k == KindOneShot {
		return "one-shot"
	}
	return "periodic"
}

// Outcome is the result of one run
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeSkipped is a success that did nothing (cap reached or throttled)
	OutcomeSkipped
	OutcomeFailure
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailure:
		return "failure"
	case OutcomeRetry:
		return "retry"
	default:
		return "success"
	}
}

// Result maps the outcome onto the scheduler's result
func (o Outcome) Result() scheduler.Result {
	switch o {
	case OutcomeFailure:
		return scheduler.ResultFailure
	case OutcomeRetry:
		return scheduler.ResultRetry
	default:
		return scheduler.ResultSuccess
	}
}

// API fetches a flight flying a route
type API interface {
	FetchByRoute(ctx context.Context, depIATA, arrIATA string) (*types.FlightPayload, error)
}

// Processor normalizes and stores a payload
type Processor interface {
	Process(ctx context.Context, p *types.FlightPayload, mode engine.Mode) engine.Result
}

// Snapshots is the part of the record store the job reads and purges
type Snapshots interface {
	LatestSnapshot(ctx context.Context) (*types.Snapshot, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// StateStore persists the collection bookkeeping
type StateStore interface {
	LoadState(ctx context.Context) (*types.CollectionState, error)
	SaveState(ctx context.Context, state *types.CollectionState) error
	ResetState(ctx context.Context) error
}

// Config bounds the job
type Config struct {
	MaxCollections int
	// MinInterval throttles periodic runs; 0 disables the throttle
	MinInterval time.Duration
	Retention   time.Duration
}

// Job is one reusable collection unit
type Job struct {
	api       API
	processor Processor
	snapshots Snapshots
	state     StateStore
	cfg       Config
	stats     *stats.Stats
	now       func() time.Time
}

// Option configures a Job
type Option func(*Job)

// WithStats counts requests and run outcomes
func WithStats(s *stats.Stats) Option {
	return func(j *Job) { j.stats = s }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// New creates a collection job
func New(api API, processor Processor, snapshots Snapshots, state StateStore, cfg Config, opts ...Option) *Job {
	if cfg.MaxCollections <= 0 {
		cfg.MaxCollections = DefaultMaxCollections
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	j := &Job{
		api:       api,
		processor: processor,
		snapshots: snapshots,
		state:     state,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Func adapts the job to the scheduler for the given trigger kind
func (j *Job) Func(kind Kind) scheduler.Func {
	return func(ctx context.Context) scheduler.Result {
		return j.Run(ctx, kind).Result()
	}
}

// Run performs one collection and reports its outcome
func (j *Job) Run(ctx context.Context, kind Kind) Outcome {
	outcome := j.run(ctx, kind)
	log.Printf("collector: %s run: %s", kind, outcome)

	if j.stats != nil {
		switch outcome {
		case OutcomeSuccess:
			j.stats.IncrementCollectionsSucceeded()
		case OutcomeSkipped:
			j.stats.IncrementCollectionsSkipped()
		default:
			j.stats.IncrementCollectionsFailed()
		}
	}
	return outcome
}

func (j *Job) run(ctx context.Context, kind Kind) Outcome {
	state, err := j.state.LoadState(ctx)
	if err != nil {
		log.Printf("collector: %v", err)
		return OutcomeRetry
	}

	if state.CollectionCount >= j.cfg.MaxCollections {
		log.Printf("collector: collection cap reached (%d/%d)", state.CollectionCount, j.cfg.MaxCollections)
		return OutcomeSkipped
	}

	now := j.now()
	if kind == KindPeriodic && j.cfg.MinInterval > 0 && state.LastCollectionTime > 0 {
		if since := now.Sub(time.UnixMilli(state.LastCollectionTime)); since < j.cfg.MinInterval {
			log.Printf("collector: last collection %s ago, waiting for %s", since.Round(time.Second), j.cfg.MinInterval)
			return OutcomeSkipped
		}
	}

	route, err := j.anchorRoute(ctx, state)
	if err != nil {
		log.Printf("collector: %v", err)
		return OutcomeRetry
	}
	if route == nil {
		log.Printf("collector: no tracked flight to anchor a route on")
		return OutcomeFailure
	}

	if j.stats != nil {
		j.stats.IncrementAPIRequests()
	}
	payload, err := j.api.FetchByRoute(ctx, route.Departure, route.Arrival)
	if errors.Is(err, flightapi.ErrNotFound) {
		log.Printf("collector: no flight found on %s", route)
		if j.stats != nil {
			j.stats.IncrementFlightsNotFound()
		}
		return OutcomeFailure
	}
	if err != nil {
		log.Printf("collector: failed to fetch %s: %v", route, err)
		if j.stats != nil {
			j.stats.IncrementAPIFailures()
		}
		return OutcomeRetry
	}
	if j.stats != nil {
		j.stats.UpdateLastFetchTime()
	}

	if got := payload.Route(); got != *route {
		log.Printf("collector: fetched flight %s flies %s, expected %s", payload.FlightNumber(), got, route)
		return OutcomeRetry
	}

	res := j.processor.Process(ctx, payload, engine.ModeInitialTracking)
	if res.Snapshot == nil {
		return OutcomeRetry
	}

	state.CollectionCount++
	state.LastCollectionTime = now.UnixMilli()
	state.Route = route
	if err := j.state.SaveState(ctx, state); err != nil {
		log.Printf("collector: %v", err)
		return OutcomeRetry
	}

	if _, err := j.snapshots.Cleanup(ctx, j.cfg.Retention); err != nil {
		log.Printf("collector: cleanup failed: %v", err)
	}

	log.Printf("collector: stored %s on %s (%d/%d)", res.Snapshot.FlightNumber, route, state.CollectionCount, j.cfg.MaxCollections)
	return OutcomeSuccess
}

// anchorRoute finds the route to collect: the latest stored snapshot's,
// falling back to the saved one. A newly learned route is saved.
func (j *Job) anchorRoute(ctx context.Context, state *types.CollectionState) (*types.Route, error) {
	latest, err := j.snapshots.LatestSnapshot(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	if latest == nil || !latest.Route().Valid() {
		if state.Route != nil && state.Route.Valid() {
			return state.Route, nil
		}
		return nil, nil
	}

	route := latest.Route()
	if state.Route == nil || *state.Route != route {
		state.Route = &route
		if err := j.state.SaveState(ctx, state); err != nil {
			log.Printf("collector: failed to save route %s: %v", route, err)
		}
	}
	return &route, nil
}

// Reset zeroes the collection counters so a new series can start
func (j *Job) Reset(ctx context.Context) error {
	return j.state.ResetState(ctx)
}
