package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pranav412-code/Flight-Tracker/internal/db/dialect"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

const snapshotColumns = `id, flight_number, airline, flight_status,
			departure_airport, departure_city, arrival_airport, arrival_city,
			scheduled_departure_time, actual_departure_time,
			scheduled_arrival_time, actual_arrival_time,
			departure_delay_minutes, arrival_delay_minutes, flight_time_minutes,
			flight_date, captured_at`

const aggregateColumns = `departure_airport, departure_city, arrival_airport, arrival_city,
			average_flight_time_minutes, flight_count, last_updated`

// Client is the relational store for snapshots, route aggregates and
// collection bookkeeping
type Client struct {
	db      *sql.DB
	dialect dialect.Dialect

	// writeMu serializes writes; SQLite allows a single writer
	writeMu sync.Mutex
}

// New opens a store for the given driver ("sqlite" or "postgres")
func New(driver, connStr string) (*Client, error) {
	d, err := dialect.Parse(driver)
	if err != nil {
		return nil, err
	}

	if d == dialect.SQLite {
		if err := ensureDir(connStr); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open(d.DriverName(), connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d == dialect.SQLite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(time.Hour)

		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := conn.Exec(pragma); err != nil {
				log.Printf("Warning: failed to set %s: %v", pragma, err)
			}
		}
	}

	return &Client{db: conn, dialect: d}, nil
}

// NewWithDB wraps an existing connection, mainly for tests
func NewWithDB(conn *sql.DB, d dialect.Dialect) *Client {
	return &Client{db: conn, dialect: d}
}

// ensureDir creates the parent directory of a SQLite database file
func ensureDir(connStr string) error {
	path := strings.TrimPrefix(connStr, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// DB returns the underlying connection, used by the migrator
func (c *Client) DB() *sql.DB {
	return c.db
}

// Dialect returns the SQL dialect of the store
func (c *Client) Dialect() dialect.Dialect {
	return c.dialect
}

// Ping verifies the store is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) q(query string) string {
	return c.dialect.Rebind(query)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (*types.Snapshot, error) {
	var (
		s                       types.Snapshot
		actualDep, actualArr    sql.NullInt64
		depDelay, arrDelay, dur sql.NullInt64
	)
	if err := row.Scan(
		&s.ID, &s.FlightNumber, &s.Airline, &s.FlightStatus,
		&s.DepartureAirport, &s.DepartureCity, &s.ArrivalAirport, &s.ArrivalCity,
		&s.ScheduledDepartureTime, &actualDep,
		&s.ScheduledArrivalTime, &actualArr,
		&depDelay, &arrDelay, &dur,
		&s.FlightDate, &s.CapturedAt,
	); err != nil {
		return nil, err
	}
	s.ActualDepartureTime = int64Ptr(actualDep)
	s.ActualArrivalTime = int64Ptr(actualArr)
	s.DepartureDelayMinutes = intPtr(depDelay)
	s.ArrivalDelayMinutes = intPtr(arrDelay)
	s.FlightTimeMinutes = intPtr(dur)
	return &s, nil
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// nullable converts optional fields into driver values
func nullable[T int | int64](p *T) interface{} {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func snapshotArgs(s *types.Snapshot) []interface{} {
	return []interface{}{
		s.FlightNumber, s.Airline, s.FlightStatus,
		s.DepartureAirport, s.DepartureCity, s.ArrivalAirport, s.ArrivalCity,
		s.ScheduledDepartureTime, nullable(s.ActualDepartureTime),
		s.ScheduledArrivalTime, nullable(s.ActualArrivalTime),
		nullable(s.DepartureDelayMinutes), nullable(s.ArrivalDelayMinutes), nullable(s.FlightTimeMinutes),
		s.FlightDate, s.CapturedAt,
	}
}

// InsertSnapshot appends a new flight_records row and returns its id
func (c *Client) InsertSnapshot(ctx context.Context, s *types.Snapshot) (int64, error) {
	query := `
		INSERT INTO flight_records (
			flight_number, airline, flight_status,
			departure_airport, departure_city, arrival_airport, arrival_city,
			scheduled_departure_time, actual_departure_time,
			scheduled_arrival_time, actual_arrival_time,
			departure_delay_minutes, arrival_delay_minutes, flight_time_minutes,
			flight_date, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var id int64
	if err := c.db.QueryRowContext(ctx, c.q(query), snapshotArgs(s)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return id, nil
}

// ReplaceLatestSnapshot overwrites the most recent row for the snapshot's
// flight number, keeping its id. It returns the row id and the route the row
// had before the update, or ErrNotFound when the flight has no stored row.
func (c *Client) ReplaceLatestSnapshot(ctx context.Context, s *types.Snapshot) (int64, types.Route, error) {
	selectQuery := `
		SELECT id, departure_airport, arrival_airport
		FROM flight_records
		WHERE flight_number = $1
		ORDER BY id DESC
		LIMIT 1
	`
	updateQuery := `
		UPDATE flight_records SET
			flight_number = $1, airline = $2, flight_status = $3,
			departure_airport = $4, departure_city = $5, arrival_airport = $6, arrival_city = $7,
			scheduled_departure_time = $8, actual_departure_time = $9,
			scheduled_arrival_time = $10, actual_arrival_time = $11,
			departure_delay_minutes = $12, arrival_delay_minutes = $13, flight_time_minutes = $14,
			flight_date = $15, captured_at = $16
		WHERE id = $17
	`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, types.Route{}, fmt.Errorf("failed to begin replace: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			fmt.Fprintf(os.Stderr, "Warning: failed to rollback transaction: %v\n", err)
		}
	}()

	var (
		id       int64
		previous types.Route
	)
	err = tx.QueryRowContext(ctx, c.q(selectQuery), s.FlightNumber).Scan(&id, &previous.Departure, &previous.Arrival)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.Route{}, ErrNotFound
	}
	if err != nil {
		return 0, types.Route{}, fmt.Errorf("failed to find latest snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, c.q(updateQuery), append(snapshotArgs(s), id)...); err != nil {
		return 0, types.Route{}, fmt.Errorf("failed to replace snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, types.Route{}, fmt.Errorf("failed to commit replace: %w", err)
	}
	return id, previous, nil
}

// LatestSnapshotByFlight returns the most recent snapshot of a flight
func (c *Client) LatestSnapshotByFlight(ctx context.Context, flightNumber string) (*types.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM flight_records
		WHERE flight_number = $1
		ORDER BY id DESC
		LIMIT 1
	`
	s, err := scanSnapshot(c.db.QueryRowContext(ctx, c.q(query), flightNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// LatestSnapshot returns the most recently stored snapshot of any flight
func (c *Client) LatestSnapshot(ctx context.Context) (*types.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM flight_records
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`
	s, err := scanSnapshot(c.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSnapshots returns stored snapshots newest first. limit <= 0 returns all.
func (c *Client) ListSnapshots(ctx context.Context, limit int) ([]*types.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM flight_records
		ORDER BY captured_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, c.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing rows: %v\n", cerr)
		}
	}()

	var snapshots []*types.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// RouteTotals holds the raw sums a route aggregate is derived from
type RouteTotals struct {
	DistinctFlights int
	DurationSum     int64
	DurationSamples int64
}

// AverageFlightTime returns the truncated mean duration, 0 when no sample exists
func (t RouteTotals) AverageFlightTime() int {
	if t.DurationSamples == 0 {
		return 0
	}
	return int(t.DurationSum / t.DurationSamples)
}

// RouteTotals sums the snapshots stored for a route
func (c *Client) RouteTotals(ctx context.Context, route types.Route) (RouteTotals, error) {
	query := `
		SELECT COUNT(DISTINCT flight_number),
			COALESCE(SUM(flight_time_minutes), 0),
			COUNT(flight_time_minutes)
		FROM flight_records
		WHERE departure_airport = $1 AND arrival_airport = $2
	`
	var t RouteTotals
	err := c.db.QueryRowContext(ctx, c.q(query), route.Departure, route.Arrival).
		Scan(&t.DistinctFlights, &t.DurationSum, &t.DurationSamples)
	if err != nil {
		return RouteTotals{}, fmt.Errorf("failed to total route %s: %w", route, err)
	}
	return t, nil
}

// UpsertRouteAggregate inserts or replaces the aggregate keyed by its route
func (c *Client) UpsertRouteAggregate(ctx context.Context, a *types.RouteAggregate) error {
	query := `
		INSERT INTO route_statistics (
			departure_airport, departure_city, arrival_airport, arrival_city,
			average_flight_time_minutes, flight_count, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (departure_airport, arrival_airport) DO UPDATE SET
			departure_city = excluded.departure_city,
			arrival_city = excluded.arrival_city,
			average_flight_time_minutes = excluded.average_flight_time_minutes,
			flight_count = excluded.flight_count,
			last_updated = excluded.last_updated
	`
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, c.q(query),
		a.DepartureAirport, a.DepartureCity, a.ArrivalAirport, a.ArrivalCity,
		a.AverageFlightTimeMinutes, a.FlightCount, a.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert route aggregate %s: %w", a.Route(), err)
	}
	return nil
}

func scanAggregate(row scanner) (*types.RouteAggregate, error) {
	var a types.RouteAggregate
	if err := row.Scan(
		&a.DepartureAirport, &a.DepartureCity, &a.ArrivalAirport, &a.ArrivalCity,
		&a.AverageFlightTimeMinutes, &a.FlightCount, &a.LastUpdated,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetRouteAggregate returns the aggregate for a route
func (c *Client) GetRouteAggregate(ctx context.Context, route types.Route) (*types.RouteAggregate, error) {
	query := `SELECT ` + aggregateColumns + `
		FROM route_statistics
		WHERE departure_airport = $1 AND arrival_airport = $2
	`
	a, err := scanAggregate(c.db.QueryRowContext(ctx, c.q(query), route.Departure, route.Arrival))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// DeleteRouteAggregate removes a route's aggregate row. Deleting a missing
// row is not an error.
func (c *Client) DeleteRouteAggregate(ctx context.Context, route types.Route) error {
	query := `DELETE FROM route_statistics WHERE departure_airport = $1 AND arrival_airport = $2`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, c.q(query), route.Departure, route.Arrival); err != nil {
		return fmt.Errorf("failed to delete route aggregate %s: %w", route, err)
	}
	return nil
}

// ListRouteAggregates returns every aggregate, busiest route first
func (c *Client) ListRouteAggregates(ctx context.Context) ([]*types.RouteAggregate, error) {
	query := `SELECT ` + aggregateColumns + `
		FROM route_statistics
		ORDER BY flight_count DESC, departure_airport, arrival_airport
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing rows: %v\n", cerr)
		}
	}()

	var aggregates []*types.RouteAggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}

// Cleanup deletes snapshots and aggregates older than the retention window
func (c *Client) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	queries := []struct {
		name  string
		query string
	}{
		{name: "flight_records", query: `DELETE FROM flight_records WHERE captured_at < $1`},
		{name: "route_statistics", query: `DELETE FROM route_statistics WHERE last_updated < $1`},
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var total int64
	for _, q := range queries {
		result, err := c.db.ExecContext(ctx, c.q(q.query), cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		total += rows
	}

	if total > 0 {
		log.Printf("Cleanup: deleted %d records older than %s", total, retention)
	}
	return total, nil
}

// LoadState returns the collection bookkeeping, zero-valued when never saved
func (c *Client) LoadState(ctx context.Context) (*types.CollectionState, error) {
	query := `
		SELECT collection_count, last_collection_time, route_departure, route_arrival
		FROM collection_state
		WHERE id = 1
	`
	var (
		state    types.CollectionState
		dep, arr sql.NullString
	)
	err := c.db.QueryRowContext(ctx, query).Scan(&state.CollectionCount, &state.LastCollectionTime, &dep, &arr)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.CollectionState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection state: %w", err)
	}
	if dep.Valid && arr.Valid && dep.String != "" && arr.String != "" {
		state.Route = &types.Route{Departure: dep.String, Arrival: arr.String}
	}
	return &state, nil
}

// SaveState writes the collection bookkeeping
func (c *Client) SaveState(ctx context.Context, state *types.CollectionState) error {
	query := `
		INSERT INTO collection_state (id, collection_count, last_collection_time, route_departure, route_arrival)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			collection_count = excluded.collection_count,
			last_collection_time = excluded.last_collection_time,
			route_departure = excluded.route_departure,
			route_arrival = excluded.route_arrival
	`
	var dep, arr interface{}
	if state.Route != nil {
		dep, arr = state.Route.Departure, state.Route.Arrival
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, c.q(query), state.CollectionCount, state.LastCollectionTime, dep, arr); err != nil {
		return fmt.Errorf("failed to save collection state: %w", err)
	}
	return nil
}

// ResetState zeroes the collection counters, keeping the saved route
func (c *Client) ResetState(ctx context.Context) error {
	query := `UPDATE collection_state SET collection_count = 0, last_collection_time = 0 WHERE id = 1`

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to reset collection state: %w", err)
	}
	return nil
}

// LoadCollectionActive reports whether periodic collection was left switched on
func (c *Client) LoadCollectionActive(ctx context.Context) (bool, error) {
	query := `SELECT collection_active FROM collection_state WHERE id = 1`

	var active bool
	err := c.db.QueryRowContext(ctx, query).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load collection switch: %w", err)
	}
	return active, nil
}

// SaveCollectionActive records whether periodic collection is switched on
func (c *Client) SaveCollectionActive(ctx context.Context, active bool) error {
	query := `
		INSERT INTO collection_state (id, collection_active)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET collection_active = excluded.collection_active
	`
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.db.ExecContext(ctx, c.q(query), active); err != nil {
		return fmt.Errorf("failed to save collection switch: %w", err)
	}
	return nil
}

// StorePipelineStats appends a pipeline counters dump
func (c *Client) StorePipelineStats(ctx context.Context, s *types.PipelineStats) error {
	query := `
		INSERT INTO pipeline_stats (
			time, api_requests, api_failures, flights_not_found,
			snapshots_stored, records_rejected, store_failures,
			collections_succeeded, collections_skipped, collections_failed,
			uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.db.ExecContext(ctx, c.q(query),
		s.Time, int64(s.APIRequests), int64(s.APIFailures), int64(s.FlightsNotFound),
		int64(s.SnapshotsStored), int64(s.RecordsRejected), int64(s.StoreFailures),
		int64(s.CollectionsSucceeded), int64(s.CollectionsSkipped), int64(s.CollectionsFailed),
		s.UptimeSeconds,
	)
	return err
}

// GetPipelineStats returns the dumps recorded between start and end, newest first
func (c *Client) GetPipelineStats(ctx context.Context, start, end time.Time) ([]*types.PipelineStats, error) {
	query := `
		SELECT time, api_requests, api_failures, flights_not_found,
			snapshots_stored, records_rejected, store_failures,
			collections_succeeded, collections_skipped, collections_failed,
			uptime_seconds
		FROM pipeline_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`
	rows, err := c.db.QueryContext(ctx, c.q(query), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing rows: %v\n", cerr)
		}
	}()

	var result []*types.PipelineStats
	for rows.Next() {
		var s types.PipelineStats
		if err := rows.Scan(
			&s.Time, &s.APIRequests, &s.APIFailures, &s.FlightsNotFound,
			&s.SnapshotsStored, &s.RecordsRejected, &s.StoreFailures,
			&s.CollectionsSucceeded, &s.CollectionsSkipped, &s.CollectionsFailed,
			&s.UptimeSeconds,
		); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}
