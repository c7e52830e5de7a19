package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/db/migrations"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// newSQLiteClient returns a migrated in-memory store
func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	client, err := New("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := migrations.New(client.DB(), client.Dialect()).Migrate(migrations.All(client.Dialect())); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return client
}

func TestSQLite_SnapshotLifecycle(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	first := testSnapshot()
	id1, err := client.InsertSnapshot(ctx, first)
	if err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	id2, err := client.InsertSnapshot(ctx, first)
	if err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("Expected increasing ids, got %d then %d", id1, id2)
	}

	updated := testSnapshot()
	updated.FlightStatus = "landed"
	actual := int64(1709301000000)
	updated.ActualArrivalTime = &actual
	updated.CapturedAt = first.CapturedAt + 1000

	updated.DepartureAirport = "EWR"
	replacedID, previous, err := client.ReplaceLatestSnapshot(ctx, updated)
	if err != nil {
		t.Fatalf("ReplaceLatestSnapshot() failed: %v", err)
	}
	if replacedID != id2 {
		t.Errorf("Expected latest row %d to be replaced, got %d", id2, replacedID)
	}
	if previous != (types.Route{Departure: "JFK", Arrival: "LAX"}) {
		t.Errorf("Expected previous route JFK-LAX, got %v", previous)
	}

	latest, err := client.LatestSnapshotByFlight(ctx, "DL123")
	if err != nil {
		t.Fatalf("LatestSnapshotByFlight() failed: %v", err)
	}
	if latest.ID != id2 || latest.FlightStatus != "landed" || latest.CapturedAt != updated.CapturedAt || latest.DepartureAirport != "EWR" {
		t.Errorf("Unexpected latest snapshot %+v", latest)
	}
	if latest.ActualArrivalTime == nil || *latest.ActualArrivalTime != actual {
		t.Errorf("Expected actual arrival %d, got %v", actual, latest.ActualArrivalTime)
	}

	all, err := client.ListSnapshots(ctx, 0)
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(all))
	}
	if all[0].ID != id2 {
		t.Errorf("Expected newest snapshot first, got id %d", all[0].ID)
	}

	limited, err := client.ListSnapshots(ctx, 1)
	if err != nil {
		t.Fatalf("ListSnapshots(1) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 snapshot, got %d", len(limited))
	}

	other := testSnapshot()
	other.FlightNumber = "AA1"
	if _, _, err := client.ReplaceLatestSnapshot(ctx, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown flight, got %v", err)
	}
}

func TestSQLite_RouteAggregates(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()
	route := types.Route{Departure: "JFK", Arrival: "LAX"}

	for _, s := range []struct {
		number string
		dur    *int
	}{
		{"DL123", intRef(360)},
		{"AA10", intRef(301)},
		{"AA10", nil},
	} {
		snap := testSnapshot()
		snap.FlightNumber = s.number
		snap.FlightTimeMinutes = s.dur
		if _, err := client.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("InsertSnapshot() failed: %v", err)
		}
	}

	totals, err := client.RouteTotals(ctx, route)
	if err != nil {
		t.Fatalf("RouteTotals() failed: %v", err)
	}
	if totals.DistinctFlights != 2 {
		t.Errorf("Expected 2 distinct flights, got %d", totals.DistinctFlights)
	}
	if totals.AverageFlightTime() != 330 {
		t.Errorf("Expected truncated average 330, got %d", totals.AverageFlightTime())
	}

	agg := &types.RouteAggregate{
		DepartureAirport:         "JFK",
		DepartureCity:            "New York",
		ArrivalAirport:           "LAX",
		ArrivalCity:              "Los Angeles",
		AverageFlightTimeMinutes: totals.AverageFlightTime(),
		FlightCount:              totals.DistinctFlights,
		LastUpdated:              time.Now().UnixMilli(),
	}
	if err := client.UpsertRouteAggregate(ctx, agg); err != nil {
		t.Fatalf("UpsertRouteAggregate() failed: %v", err)
	}
	agg.FlightCount = 3
	if err := client.UpsertRouteAggregate(ctx, agg); err != nil {
		t.Fatalf("Second UpsertRouteAggregate() failed: %v", err)
	}

	aggregates, err := client.ListRouteAggregates(ctx)
	if err != nil {
		t.Fatalf("ListRouteAggregates() failed: %v", err)
	}
	if len(aggregates) != 1 {
		t.Fatalf("Expected a single aggregate per route, got %d", len(aggregates))
	}
	if aggregates[0].FlightCount != 3 {
		t.Errorf("Expected upserted flight count 3, got %d", aggregates[0].FlightCount)
	}

	got, err := client.GetRouteAggregate(ctx, route)
	if err != nil {
		t.Fatalf("GetRouteAggregate() failed: %v", err)
	}
	if got.AverageFlightTimeMinutes != 330 {
		t.Errorf("Expected average 330, got %d", got.AverageFlightTimeMinutes)
	}

	if _, err := client.GetRouteAggregate(ctx, types.Route{Departure: "X", Arrival: "Y"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := client.DeleteRouteAggregate(ctx, route); err != nil {
		t.Fatalf("DeleteRouteAggregate() failed: %v", err)
	}
	if _, err := client.GetRouteAggregate(ctx, route); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deleted aggregate to be gone, got %v", err)
	}
	if err := client.DeleteRouteAggregate(ctx, route); err != nil {
		t.Errorf("Deleting a missing aggregate should succeed, got %v", err)
	}
}

func TestSQLite_Cleanup(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	old := testSnapshot()
	old.CapturedAt = time.Now().Add(-31 * 24 * time.Hour).UnixMilli()
	if _, err := client.InsertSnapshot(ctx, old); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	fresh := testSnapshot()
	if _, err := client.InsertSnapshot(ctx, fresh); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}

	deleted, err := client.Cleanup(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted row, got %d", deleted)
	}

	remaining, err := client.ListSnapshots(ctx, 0)
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].CapturedAt != fresh.CapturedAt {
		t.Errorf("Expected only the fresh snapshot to remain, got %d rows", len(remaining))
	}
}

func TestSQLite_CollectionState(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	state, err := client.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if state.CollectionCount != 0 || state.LastCollectionTime != 0 || state.Route != nil {
		t.Errorf("Expected zero state, got %+v", state)
	}

	saved := &types.CollectionState{
		CollectionCount:    2,
		LastCollectionTime: 12345,
		Route:              &types.Route{Departure: "JFK", Arrival: "LAX"},
	}
	if err := client.SaveState(ctx, saved); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}
	saved.CollectionCount = 3
	if err := client.SaveState(ctx, saved); err != nil {
		t.Fatalf("Second SaveState() failed: %v", err)
	}

	state, err = client.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if state.CollectionCount != 3 || state.LastCollectionTime != 12345 {
		t.Errorf("Unexpected state %+v", state)
	}

	if err := client.ResetState(ctx); err != nil {
		t.Fatalf("ResetState() failed: %v", err)
	}
	state, err = client.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() failed: %v", err)
	}
	if state.CollectionCount != 0 || state.LastCollectionTime != 0 {
		t.Errorf("Expected counters reset, got %+v", state)
	}
	if state.Route == nil || state.Route.String() != "JFK-LAX" {
		t.Errorf("Expected reset to keep the saved route, got %v", state.Route)
	}
}

func TestSQLite_CollectionActive(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	active, err := client.LoadCollectionActive(ctx)
	if err != nil {
		t.Fatalf("LoadCollectionActive() failed: %v", err)
	}
	if active {
		t.Error("Expected collection to be off on a fresh store")
	}

	if err := client.SaveCollectionActive(ctx, true); err != nil {
		t.Fatalf("SaveCollectionActive() failed: %v", err)
	}

	// Collection bookkeeping must not clear the switch
	if err := client.SaveState(ctx, &types.CollectionState{CollectionCount: 1, LastCollectionTime: 99}); err != nil {
		t.Fatalf("SaveState() failed: %v", err)
	}
	if err := client.ResetState(ctx); err != nil {
		t.Fatalf("ResetState() failed: %v", err)
	}

	active, err = client.LoadCollectionActive(ctx)
	if err != nil {
		t.Fatalf("LoadCollectionActive() failed: %v", err)
	}
	if !active {
		t.Error("Expected collection to stay on")
	}

	if err := client.SaveCollectionActive(ctx, false); err != nil {
		t.Fatalf("SaveCollectionActive() failed: %v", err)
	}
	if active, _ := client.LoadCollectionActive(ctx); active {
		t.Error("Expected collection to be off after saving false")
	}
}

func TestSQLite_PipelineStats(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()
	now := time.Now()

	s := &types.PipelineStats{Time: now.UnixMilli(), APIRequests: 4, SnapshotsStored: 3, UptimeSeconds: 10}
	if err := client.StorePipelineStats(ctx, s); err != nil {
		t.Fatalf("StorePipelineStats() failed: %v", err)
	}

	got, err := client.GetPipelineStats(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetPipelineStats() failed: %v", err)
	}
	if len(got) != 1 || got[0].APIRequests != 4 || got[0].SnapshotsStored != 3 {
		t.Errorf("Unexpected pipeline stats %+v", got)
	}
}

func intRef(v int) *int { return &v }
