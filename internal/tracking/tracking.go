// Package tracking polls the flight API for a single tracked flight and
// publishes the session's status to subscribers.
package tracking

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pranav412-code/Flight-Tracker/internal/engine"
	"github.com/pranav412-code/Flight-Tracker/internal/flightapi"
	"github.com/pranav412-code/Flight-Tracker/internal/stats"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// DefaultPollInterval is the time between fetches of a tracked flight
const DefaultPollInterval = time.Minute

const evictTimeout = 2 * time.Second

// User-facing status messages
const (
	MessageInvalidFlightNumber = "Please enter a valid flight number"
	MessageFlightNotFound      = "Flight not found"
	MessageNetworkError        = "Network Error. Please try again later"
)

// ErrInvalidFlightNumber is returned by TrackFlight for blank input
var ErrInvalidFlightNumber = errors.New("invalid flight number")

// Status is the published state of the session
type Status = types.TrackingStatus

// API fetches a flight by number
type API interface {
	FetchByNumber(ctx context.Context, flightNumber string) (*types.FlightPayload, error)
}

// Processor normalizes and stores a payload
type Processor interface {
	Process(ctx context.Context, p *types.FlightPayload, mode engine.Mode) engine.Result
}

// StatusPublisher receives every status change
type StatusPublisher interface {
	PublishStatus(s *types.TrackingStatus) error
}

// FlightCache keeps the latest payload of the tracked flight
type FlightCache interface {
	CacheFlight(ctx context.Context, p *types.FlightPayload) error
	DeleteFlight(ctx context.Context, flightNumber string) error
}

// Controller runs at most one tracking session at a time
type Controller struct {
	api       API
	processor Processor
	interval  time.Duration
	publisher StatusPublisher
	cache     FlightCache
	stats     *stats.Stats
	now       func() time.Time

	mu     sync.Mutex
	status Status
	cached string
	gen    uint64
	cancel context.CancelFunc
	subs   map[chan Status]struct{}
	wg     sync.WaitGroup
}

// Option configures a Controller
type Option func(*Controller)

// WithPollInterval sets the time between fetches
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithStatusPublisher publishes status changes
func WithStatusPublisher(p StatusPublisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithFlightCache caches every successfully fetched payload
func WithFlightCache(fc FlightCache) Option {
	return func(c *Controller) { c.cache = fc }
}

// WithStats counts API requests and failures
func WithStats(s *stats.Stats) Option {
	return func(c *Controller) { c.stats = s }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates an idle controller
func New(api API, processor Processor, opts ...Option) *Controller {
	c := &Controller{
		api:       api,
		processor: processor,
		interval:  DefaultPollInterval,
		now:       time.Now,
		status:    Status{State: types.TrackingInitial},
		subs:      make(map[chan Status]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TrackFlight starts a new session for flightNumber, replacing the current one.
// It fetches immediately and then every poll interval.
func (c *Controller) TrackFlight(flightNumber string) error {
	flightNumber = strings.TrimSpace(flightNumber)

	c.mu.Lock()
	if flightNumber == "" {
		c.status.State = types.TrackingError
		c.status.Message = MessageInvalidFlightNumber
		c.status.Flight = nil
		s := c.broadcastLocked()
		c.mu.Unlock()
		c.announce(s)
		return ErrInvalidFlightNumber
	}

	c.stopLocked(false)
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.status = Status{
		State:        types.TrackingLoading,
		FlightNumber: flightNumber,
		SessionID:    uuid.New().String(),
	}
	s := c.broadcastLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.announce(s)
	log.Printf("tracking: session %s started for %s", s.SessionID, flightNumber)

	go c.poll(ctx, gen, flightNumber)
	return nil
}

// StopTracking ends the current session, marks it stopped and drops the
// flight from the cache
func (c *Controller) StopTracking() {
	c.mu.Lock()
	c.stopLocked(true)
	s := c.broadcastLocked()
	cached := c.cached
	c.cached = ""
	c.mu.Unlock()
	c.announce(s)
	c.evict(cached)
}

// Status returns the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe returns a channel that receives the current status and every
// change after it. Slow readers only see the latest value. Call the returned
// function to unsubscribe.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	c.mu.Lock()
	ch <- c.status
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops tracking and waits for the poll loop to exit
func (c *Controller) Close() {
	c.StopTracking()
	c.wg.Wait()
}

func (c *Controller) stopLocked(markStopped bool) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.gen++
	}
	if markStopped {
		c.status.Stopped = true
	}
}

// broadcastLocked hands the current status to subscribers and returns it
func (c *Controller) broadcastLocked() Status {
	s := c.status
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
	return s
}

func (c *Controller) evict(flightNumber string) {
	if c.cache == nil || flightNumber == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
	defer cancel()
	if err := c.cache.DeleteFlight(ctx, flightNumber); err != nil {
		log.Printf("tracking: failed to evict %s from cache: %v", flightNumber, err)
	}
}

func (c *Controller) announce(s Status) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishStatus(&s); err != nil {
		log.Printf("tracking: failed to publish status: %v", err)
	}
}

func (c *Controller) poll(ctx context.Context, gen uint64, flightNumber string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	mode := engine.ModeInitialTracking
	for {
		if !c.fetch(ctx, gen, flightNumber, &mode) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fetch runs one poll and applies its result. It reports whether polling continues.
func (c *Controller) fetch(ctx context.Context, gen uint64, flightNumber string, mode *engine.Mode) bool {
	fetchedAt := c.now().UnixMilli()
	if c.stats != nil {
		c.stats.IncrementAPIRequests()
	}

	payload, err := c.api.FetchByNumber(ctx, flightNumber)
	if ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.status.LastFetch = fetchedAt

	if err != nil {
		c.status.State = types.TrackingError
		c.status.Flight = nil
		if errors.Is(err, flightapi.ErrNotFound) {
			c.status.Message = MessageFlightNotFound
		} else {
			c.status.Message = MessageNetworkError
		}
		c.stopLocked(true)
		s := c.broadcastLocked()
		c.mu.Unlock()

		if errors.Is(err, flightapi.ErrNotFound) {
			log.Printf("tracking: %s not found", flightNumber)
			if c.stats != nil {
				c.stats.IncrementFlightsNotFound()
			}
		} else {
			log.Printf("tracking: failed to fetch %s: %v", flightNumber, err)
			if c.stats != nil {
				c.stats.IncrementAPIFailures()
			}
		}
		c.announce(s)
		return false
	}

	c.status.State = types.TrackingSuccess
	c.status.Flight = payload
	c.status.Message = ""
	s := c.broadcastLocked()
	c.mu.Unlock()

	if c.stats != nil {
		c.stats.UpdateLastFetchTime()
	}
	c.announce(s)

	if c.cache != nil {
		if err := c.cache.CacheFlight(ctx, payload); err != nil {
			log.Printf("tracking: failed to cache %s: %v", flightNumber, err)
		} else {
			c.mu.Lock()
			c.cached = payload.FlightNumber()
			c.mu.Unlock()
		}
	}

	c.processor.Process(ctx, payload, *mode)
	*mode = engine.ModePeriodicUpdate
	return true
}
