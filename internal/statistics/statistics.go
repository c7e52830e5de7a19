// Package statistics serves the route aggregate table and switches the
// background collection jobs on and off.
package statistics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/collector"
	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/scheduler"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// Job names; the scheduler keeps at most one instance of each
const (
	PeriodicJobName = "flight_data_collection_periodic"
	OneTimeJobName  = "flight_data_collection_onetime"
)

const (
	DefaultInterval     = 8 * time.Hour
	DefaultInitialDelay = 15 * time.Minute
)

// ErrNoTrackedFlights is returned when collection is started before any flight was stored
var ErrNoTrackedFlights = errors.New("no tracked flights")

// RouteStatistic is one row of the statistics table
type RouteStatistic struct {
	DepartureAirport   string `json:"departure_airport"`
	DepartureName      string `json:"departure_name"`
	ArrivalAirport     string `json:"arrival_airport"`
	ArrivalName        string `json:"arrival_name"`
	AverageTime        string `json:"average_time"`
	AverageTimeMinutes int    `json:"average_time_minutes"`
	FlightCount        int    `json:"flight_count"`
	LastUpdated        int64  `json:"last_updated"`
}

// Store is the read side of the record store
type Store interface {
	GetRouteAggregate(ctx context.Context, route types.Route) (*types.RouteAggregate, error)
	ListRouteAggregates(ctx context.Context) ([]*types.RouteAggregate, error)
	ListSnapshots(ctx context.Context, limit int) ([]*types.Snapshot, error)
	LatestSnapshot(ctx context.Context) (*types.Snapshot, error)
}

// Scheduler runs the collection jobs
type Scheduler interface {
	EnqueueOnce(name string, fn scheduler.Func) string
	EnqueuePeriodic(name string, interval, initialDelay time.Duration, fn scheduler.Func) string
	Cancel(name string)
	IsScheduled(name string) bool
}

// Collector is the collection unit the jobs run
type Collector interface {
	Func(kind collector.Kind) scheduler.Func
	Reset(ctx context.Context) error
}

// Switch persists whether periodic collection is on, so a restart can resume it
type Switch interface {
	LoadCollectionActive(ctx context.Context) (bool, error)
	SaveCollectionActive(ctx context.Context, active bool) error
}

// Config sets the periodic schedule
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// Controller backs the statistics view
type Controller struct {
	store     Store
	scheduler Scheduler
	collector Collector
	cfg       Config
	sw        Switch
}

// Option configures a Controller
type Option func(*Controller)

// WithSwitch persists the collection toggle
func WithSwitch(sw Switch) Option {
	return func(c *Controller) { c.sw = sw }
}

const switchTimeout = 2 * time.Second

// New creates a statistics controller
func New(store Store, sched Scheduler, coll Collector, cfg Config, opts ...Option) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	c := &Controller{
		store:     store,
		scheduler: sched,
		collector: coll,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FormatAverageTime renders minutes as "{h}h {m}m"
func FormatAverageTime(minutes int) string {
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// RouteStatistics returns every route aggregate, most flown first
func (c *Controller) RouteStatistics(ctx context.Context) ([]RouteStatistic, error) {
	aggregates, err := c.store.ListRouteAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list route statistics: %w", err)
	}

	stats := make([]RouteStatistic, 0, len(aggregates))
	for _, a := range aggregates {
		stats = append(stats, toRouteStatistic(a))
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].FlightCount > stats[j].FlightCount
	})
	return stats, nil
}

// RouteStatistic returns the aggregate of one route. A route without
// aggregate yields db.ErrNotFound.
func (c *Controller) RouteStatistic(ctx context.Context, route types.Route) (*RouteStatistic, error) {
	a, err := c.store.GetRouteAggregate(ctx, route)
	if err != nil {
		return nil, fmt.Errorf("failed to get route statistics for %s: %w", route, err)
	}
	stat := toRouteStatistic(a)
	return &stat, nil
}

func toRouteStatistic(a *types.RouteAggregate) RouteStatistic {
	return RouteStatistic{
		DepartureAirport:   a.DepartureAirport,
		DepartureName:      a.DepartureCity,
		ArrivalAirport:     a.ArrivalAirport,
		ArrivalName:        a.ArrivalCity,
		AverageTime:        FormatAverageTime(a.AverageFlightTimeMinutes),
		AverageTimeMinutes: a.AverageFlightTimeMinutes,
		FlightCount:        a.FlightCount,
		LastUpdated:        a.LastUpdated,
	}
}

// FlightRecords returns stored snapshots newest first. limit <= 0 returns all.
func (c *Controller) FlightRecords(ctx context.Context, limit int) ([]*types.Snapshot, error) {
	records, err := c.store.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flight records: %w", err)
	}
	if records == nil {
		records = []*types.Snapshot{}
	}
	return records, nil
}

// CollectionActive reports whether the periodic collection is scheduled
func (c *Controller) CollectionActive() bool {
	return c.scheduler.IsScheduled(PeriodicJobName)
}

// StartCollection restarts collection from a clean slate: counters are reset,
// one collection runs now and the periodic schedule begins after the initial delay
func (c *Controller) StartCollection(ctx context.Context) error {
	c.StopCollection()

	latest, err := c.store.LatestSnapshot(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNoTrackedFlights
	}
	if err != nil {
		return fmt.Errorf("failed to find tracked flight: %w", err)
	}

	if err := c.collector.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}

	c.scheduler.EnqueueOnce(OneTimeJobName, c.collector.Func(collector.KindOneShot))
	c.scheduler.EnqueuePeriodic(PeriodicJobName, c.cfg.Interval, c.cfg.InitialDelay, c.collector.Func(collector.KindPeriodic))
	c.saveSwitch(ctx, true)

	log.Printf("statistics: collection started for %s (%s), every %s", latest.FlightNumber, latest.Route(), c.cfg.Interval)
	return nil
}

// StopCollection cancels both collection jobs
func (c *Controller) StopCollection() {
	c.scheduler.Cancel(OneTimeJobName)
	c.scheduler.Cancel(PeriodicJobName)

	ctx, cancel := context.WithTimeout(context.Background(), switchTimeout)
	defer cancel()
	c.saveSwitch(ctx, false)
}

// Resume schedules the periodic collection again when it was left switched
// on, without resetting the counters or running a one-shot collection.
// It reports whether collection is active afterwards.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	if c.sw == nil {
		return c.CollectionActive(), nil
	}
	active, err := c.sw.LoadCollectionActive(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load collection switch: %w", err)
	}
	if !active || c.CollectionActive() {
		return c.CollectionActive(), nil
	}

	c.scheduler.EnqueuePeriodic(PeriodicJobName, c.cfg.Interval, c.cfg.InitialDelay, c.collector.Func(collector.KindPeriodic))
	log.Printf("statistics: resumed periodic collection, every %s", c.cfg.Interval)
	return true, nil
}

// saveSwitch persists the toggle. A failure only costs the resume after a restart.
func (c *Controller) saveSwitch(ctx context.Context, active bool) {
	if c.sw == nil {
		return
	}
	if err := c.sw.SaveCollectionActive(ctx, active); err != nil {
		log.Printf("statistics: failed to save collection switch: %v", err)
	}
}

// CollectNow runs a single collection, replacing one that is still pending
func (c *Controller) CollectNow() string {
	return c.scheduler.EnqueueOnce(OneTimeJobName, c.collector.Func(collector.KindOneShot))
}
