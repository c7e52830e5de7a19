package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// Store persists counter dumps
type Store interface {
	StorePipelineStats(ctx context.Context, s *types.PipelineStats) error
}

// Stats tracks pipeline counters
type Stats struct {
	// API traffic
	APIRequests     uint64
	APIFailures     uint64
	FlightsNotFound uint64

	// Engine
	SnapshotsStored uint64
	RecordsRejected uint64
	StoreFailures   uint64

	// Background collection
	CollectionsSucceeded uint64
	CollectionsSkipped   uint64
	CollectionsFailed    uint64

	// Timing
	StartTime     time.Time
	LastFetchTime time.Time

	// Store for persistence
	db Store

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{
		StartTime: time.Now(),
	}
}

// SetDB sets the store used for persistence
func (s *Stats) SetDB(db Store) {
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
}

// Persist stores the current counters
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("database client not set")
	}

	return db.StorePipelineStats(ctx, s.GetStats())
}

// IncrementAPIRequests increments the API requests counter
func (s *Stats) IncrementAPIRequests() {
	atomic.AddUint64(&s.APIRequests, 1)
}

// IncrementAPIFailures increments the failed API requests counter
func (s *Stats) IncrementAPIFailures() {
	atomic.AddUint64(&s.APIFailures, 1)
}

// IncrementFlightsNotFound increments the empty API answers counter
func (s *Stats) IncrementFlightsNotFound() {
	atomic.AddUint64(&s.FlightsNotFound, 1)
}

// IncrementSnapshotsStored increments the stored snapshots counter
func (s *Stats) IncrementSnapshotsStored() {
	atomic.AddUint64(&s.SnapshotsStored, 1)
}

// IncrementRecordsRejected increments the rejected payloads counter
func (s *Stats) IncrementRecordsRejected() {
	atomic.AddUint64(&s.RecordsRejected, 1)
}

// IncrementStoreFailures increments the store failures counter
func (s *Stats) IncrementStoreFailures() {
	atomic.AddUint64(&s.StoreFailures, 1)
}

// IncrementCollectionsSucceeded increments the successful collections counter
func (s *Stats) IncrementCollectionsSucceeded() {
	atomic.AddUint64(&s.CollectionsSucceeded, 1)
}

// IncrementCollectionsSkipped increments the skipped collections counter
func (s *Stats) IncrementCollectionsSkipped() {
	atomic.AddUint64(&s.CollectionsSkipped, 1)
}

// IncrementCollectionsFailed increments the failed or retried collections counter
func (s *Stats) IncrementCollectionsFailed() {
	atomic.AddUint64(&s.CollectionsFailed, 1)
}

// UpdateLastFetchTime records the time of the latest API call
func (s *Stats) UpdateLastFetchTime() {
	s.mu.Lock()
	s.LastFetchTime = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the current counters
func (s *Stats) GetStats() *types.PipelineStats {
	s.mu.RLock()
	start := s.StartTime
	s.mu.RUnlock()

	now := time.Now()
	return &types.PipelineStats{
		Time:                 now.UnixMilli(),
		APIRequests:          atomic.LoadUint64(&s.APIRequests),
		APIFailures:          atomic.LoadUint64(&s.APIFailures),
		FlightsNotFound:      atomic.LoadUint64(&s.FlightsNotFound),
		SnapshotsStored:      atomic.LoadUint64(&s.SnapshotsStored),
		RecordsRejected:      atomic.LoadUint64(&s.RecordsRejected),
		StoreFailures:        atomic.LoadUint64(&s.StoreFailures),
		CollectionsSucceeded: atomic.LoadUint64(&s.CollectionsSucceeded),
		CollectionsSkipped:   atomic.LoadUint64(&s.CollectionsSkipped),
		CollectionsFailed:    atomic.LoadUint64(&s.CollectionsFailed),
		UptimeSeconds:        int64(now.Sub(start).Seconds()),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()

	s.mu.RLock()
	lastFetch := s.LastFetchTime
	s.mu.RUnlock()

	last := "never"
	if !lastFetch.IsZero() {
		last = lastFetch.Format(time.RFC3339)
	}

	return fmt.Sprintf(
		"API Requests: %d\n"+
			"API Failures: %d\n"+
			"Flights Not Found: %d\n"+
			"Snapshots Stored: %d\n"+
			"Records Rejected: %d\n"+
			"Store Failures: %d\n"+
			"Collections Succeeded: %d\n"+
			"Collections Skipped: %d\n"+
			"Collections Failed: %d\n"+
			"Last Fetch Time: %s\n"+
			"Uptime: %s",
		stats.APIRequests,
		stats.APIFailures,
		stats.FlightsNotFound,
		stats.SnapshotsStored,
		stats.RecordsRejected,
		stats.StoreFailures,
		stats.CollectionsSucceeded,
		stats.CollectionsSkipped,
		stats.CollectionsFailed,
		last,
		time.Duration(stats.UptimeSeconds)*time.Second,
	)
}

// StartPersistence persists the counters every interval until ctx is done
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				fmt.Printf("Failed to persist final statistics: %v\n", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				fmt.Printf("Failed to persist statistics: %v\n", err)
			}
		}
	}
}
