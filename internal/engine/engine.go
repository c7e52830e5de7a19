// Package engine turns API payloads into stored snapshots and keeps the
// per-route aggregates in step with them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/stats"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// Mode selects how a snapshot is written
type Mode int

const (
	// ModeInitialTracking always appends a new row
	ModeInitialTracking Mode = iota
	// ModePeriodicUpdate replaces the latest row of the same flight, or appends when none exists
	ModePeriodicUpdate
)

func (m Mode) String() string {
	if m == ModePeriodicUpdate {
		return "periodic_update"
	}
	return "initial_tracking"
}

// Store is the persistence the engine writes through
type Store interface {
	InsertSnapshot(ctx context.Context, s *types.Snapshot) (int64, error)
	ReplaceLatestSnapshot(ctx context.Context, s *types.Snapshot) (int64, types.Route, error)
	RouteTotals(ctx context.Context, route types.Route) (db.RouteTotals, error)
	GetRouteAggregate(ctx context.Context, route types.Route) (*types.RouteAggregate, error)
	UpsertRouteAggregate(ctx context.Context, a *types.RouteAggregate) error
	DeleteRouteAggregate(ctx context.Context, route types.Route) error
}

// Publisher receives every stored snapshot
type Publisher interface {
	PublishSnapshot(s *types.Snapshot) error
}

// Result is the outcome of processing one payload
type Result struct {
	Snapshot  *types.Snapshot
	Aggregate *types.RouteAggregate
	Err       error
}

// Rejected reports whether the payload failed validation
func (r Result) Rejected() bool {
	return errors.Is(r.Err, ErrRejected)
}

// Engine normalizes, stores and aggregates flight payloads
type Engine struct {
	store     Store
	loc       *time.Location
	now       func() time.Time
	publisher Publisher
	stats     *stats.Stats
}

// Option configures an Engine
type Option func(*Engine)

// WithLocation sets the zone API timestamps are interpreted in
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithPublisher publishes stored snapshots
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithStats counts stored, rejected and failed records
func WithStats(s *stats.Stats) Option {
	return func(e *Engine) { e.stats = s }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine writing to store
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		loc:   time.UTC,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store writes a snapshot in the given mode and refreshes its route aggregate.
// The returned snapshot carries the row id and capture time.
func (e *Engine) Store(ctx context.Context, s *types.Snapshot, mode Mode) (*types.Snapshot, error) {
	stored, _, err := e.write(ctx, s, mode)
	return stored, err
}

func (e *Engine) write(ctx context.Context, s *types.Snapshot, mode Mode) (*types.Snapshot, *types.RouteAggregate, error) {
	snap := *s
	snap.CapturedAt = e.now().UnixMilli()

	var (
		id       int64
		previous types.Route
		err      error
	)
	switch mode {
	case ModePeriodicUpdate:
		id, previous, err = e.store.ReplaceLatestSnapshot(ctx, &snap)
		if errors.Is(err, db.ErrNotFound) {
			id, err = e.store.InsertSnapshot(ctx, &snap)
		}
	default:
		id, err = e.store.InsertSnapshot(ctx, &snap)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store %s: %w", snap.FlightNumber, err)
	}
	snap.ID = id

	agg, err := e.RecomputeRouteAggregate(ctx, snap.Route(), snap.DepartureCity, snap.ArrivalCity)
	if err != nil {
		return &snap, nil, err
	}

	// The replaced row may have flown another route (multi-leg numbers, diversions)
	if previous.Valid() && previous != snap.Route() {
		if err := e.refreshVacatedRoute(ctx, previous); err != nil {
			return &snap, agg, fmt.Errorf("failed to refresh route %s: %w", previous, err)
		}
	}
	return &snap, agg, nil
}

// refreshVacatedRoute recomputes the aggregate of a route that just lost a
// snapshot, deleting it once no snapshot of the route is left
func (e *Engine) refreshVacatedRoute(ctx context.Context, route types.Route) error {
	totals, err := e.store.RouteTotals(ctx, route)
	if err != nil {
		return err
	}
	if totals.DistinctFlights == 0 {
		return e.store.DeleteRouteAggregate(ctx, route)
	}

	var depCity, arrCity string
	existing, err := e.store.GetRouteAggregate(ctx, route)
	switch {
	case err == nil:
		depCity, arrCity = existing.DepartureCity, existing.ArrivalCity
	case !errors.Is(err, db.ErrNotFound):
		return err
	}

	_, err = e.RecomputeRouteAggregate(ctx, route, depCity, arrCity)
	return err
}

// RecomputeRouteAggregate rebuilds a route's aggregate from every stored
// snapshot of that route and upserts it
func (e *Engine) RecomputeRouteAggregate(ctx context.Context, route types.Route, depCity, arrCity string) (*types.RouteAggregate, error) {
	totals, err := e.store.RouteTotals(ctx, route)
	if err != nil {
		return nil, err
	}

	agg := &types.RouteAggregate{
		DepartureAirport:         route.Departure,
		DepartureCity:            depCity,
		ArrivalAirport:           route.Arrival,
		ArrivalCity:              arrCity,
		AverageFlightTimeMinutes: totals.AverageFlightTime(),
		FlightCount:              totals.DistinctFlights,
		LastUpdated:              e.now().UnixMilli(),
	}
	if err := e.store.UpsertRouteAggregate(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// Process normalizes, stores and aggregates one payload. Failures are
// logged, counted and returned in the result.
func (e *Engine) Process(ctx context.Context, p *types.FlightPayload, mode Mode) Result {
	snap, err := e.Normalize(p, e.now())
	if err != nil {
		log.Printf("engine: %v", err)
		if e.stats != nil {
			e.stats.IncrementRecordsRejected()
		}
		return Result{Err: err}
	}

	stored, agg, err := e.write(ctx, snap, mode)
	if stored == nil {
		log.Printf("engine: %v", err)
		if e.stats != nil {
			e.stats.IncrementStoreFailures()
		}
		return Result{Err: err}
	}

	if e.stats != nil {
		e.stats.IncrementSnapshotsStored()
	}
	if err != nil {
		log.Printf("engine: failed to aggregate route %s: %v", stored.Route(), err)
		if e.stats != nil {
			e.stats.IncrementStoreFailures()
		}
	}

	if e.publisher != nil {
		if perr := e.publisher.PublishSnapshot(stored); perr != nil {
			log.Printf("engine: failed to publish snapshot %d: %v", stored.ID, perr)
		}
	}

	return Result{Snapshot: stored, Aggregate: agg, Err: err}
}
