package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/statistics"
	"github.com/pranav412-code/Flight-Tracker/internal/tracking"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

type mockTracker struct {
	tracked []string
	stops   int
	status  types.TrackingStatus
}

func (m *mockTracker) TrackFlight(flightNumber string) error {
	m.tracked = append(m.tracked, flightNumber)
	if strings.TrimSpace(flightNumber) == "" {
		m.status = types.TrackingStatus{State: types.TrackingError, Message: tracking.MessageInvalidFlightNumber}
		return tracking.ErrInvalidFlightNumber
	}
	m.status = types.TrackingStatus{State: types.TrackingLoading, FlightNumber: flightNumber}
	return nil
}

func (m *mockTracker) StopTracking() {
	m.stops++
	m.status.Stopped = true
}

func (m *mockTracker) Status() types.TrackingStatus {
	return m.status
}

type mockStatistics struct {
	routes   []statistics.RouteStatistic
	records  []*types.Snapshot
	err      error
	startErr error
	active   bool
	limit    int
	nowCalls int
}

func (m *mockStatistics) RouteStatistics(ctx context.Context) ([]statistics.RouteStatistic, error) {
	return m.routes, m.err
}

func (m *mockStatistics) RouteStatistic(ctx context.Context, route types.Route) (*statistics.RouteStatistic, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.routes {
		if m.routes[i].DepartureAirport == route.Departure && m.routes[i].ArrivalAirport == route.Arrival {
			return &m.routes[i], nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockStatistics) FlightRecords(ctx context.Context, limit int) ([]*types.Snapshot, error) {
	m.limit = limit
	return m.records, m.err
}

func (m *mockStatistics) CollectionActive() bool { return m.active }

func (m *mockStatistics) StartCollection(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.active = true
	return nil
}

func (m *mockStatistics) StopCollection() { m.active = false }

func (m *mockStatistics) CollectNow() string {
	m.nowCalls++
	return "run-1"
}

type mockStore struct {
	err        error
	snapshots  map[string]*types.Snapshot
	lookupErr  error
	history    []*types.PipelineStats
	historyErr error
	start, end time.Time
}

func (m *mockStore) Ping(ctx context.Context) error { return m.err }

func (m *mockStore) LatestSnapshotByFlight(ctx context.Context, flightNumber string) (*types.Snapshot, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	if s, ok := m.snapshots[flightNumber]; ok {
		return s, nil
	}
	return nil, db.ErrNotFound
}

func (m *mockStore) GetPipelineStats(ctx context.Context, start, end time.Time) ([]*types.PipelineStats, error) {
	m.start, m.end = start, end
	return m.history, m.historyErr
}

type mockFlightCache struct {
	flights map[string]*types.FlightPayload
	err     error
}

func (m *mockFlightCache) GetFlight(ctx context.Context, flightNumber string) (*types.FlightPayload, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.flights[flightNumber], nil
}

type mockCounters struct{}

func (mockCounters) GetStats() *types.PipelineStats {
	return &types.PipelineStats{APIRequests: 7, SnapshotsStored: 3}
}

type fixture struct {
	tracker *mockTracker
	stats   *mockStatistics
	store   *mockStore
	cache   *mockFlightCache
	handler http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		tracker: &mockTracker{status: types.TrackingStatus{State: types.TrackingInitial}},
		stats:   &mockStatistics{},
		store:   &mockStore{snapshots: make(map[string]*types.Snapshot)},
		cache:   &mockFlightCache{flights: make(map[string]*types.FlightPayload)},
	}
	f.handler = New(f.tracker, f.stats, f.store, mockCounters{}, Config{}, WithFlightCache(f.cache)).Router()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var ok map[string]interface{}
	decode(t, rec, &ok)
	assert.Equal(t, "ok", ok["status"])

	f.store.err = errors.New("database is locked")
	rec = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var bad map[string]interface{}
	decode(t, rec, &bad)
	assert.Equal(t, "disconnected", bad["database"])
}

func TestTrack(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"valid", `{"flight_number":"DL123"}`, http.StatusAccepted, ""},
		{"blank", `{"flight_number":"  "}`, http.StatusBadRequest, tracking.MessageInvalidFlightNumber},
		{"malformed", `{"flight_number":`, http.StatusBadRequest, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := f.do(http.MethodPost, "/api/track", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantError != "" {
				var resp ErrorResponse
				decode(t, rec, &resp)
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}

			var status types.TrackingStatus
			decode(t, rec, &status)
			assert.Equal(t, types.TrackingLoading, status.State)
			assert.Equal(t, "DL123", status.FlightNumber)
			assert.Equal(t, []string{"DL123"}, f.tracker.tracked)
		})
	}
}

func TestTrackStatusAndStop(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/api/track", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status types.TrackingStatus
	decode(t, rec, &status)
	assert.Equal(t, types.TrackingInitial, status.State)

	rec = f.do(http.MethodPost, "/api/track/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.True(t, status.Stopped)
	assert.Equal(t, 1, f.tracker.stops)
}

func TestRouteStatistics(t *testing.T) {
	f := newFixture()
	f.stats.routes = []statistics.RouteStatistic{
		{DepartureAirport: "JFK", ArrivalAirport: "LAX", AverageTime: "5h 30m", AverageTimeMinutes: 330, FlightCount: 2},
	}

	rec := f.do(http.MethodGet, "/api/statistics/routes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Routes []statistics.RouteStatistic `json:"routes"`
		Count  int                         `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "5h 30m", resp.Routes[0].AverageTime)

	f.stats.err = errors.New("boom")
	rec = f.do(http.MethodGet, "/api/statistics/routes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFlightRecords(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"all", "", http.StatusOK, 0},
		{"limited", "?limit=25", http.StatusOK, 25},
		{"negative", "?limit=-1", http.StatusBadRequest, 0},
		{"not a number", "?limit=ten", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.stats.records = []*types.Snapshot{{ID: 1, FlightNumber: "DL123"}}

			rec := f.do(http.MethodGet, "/api/statistics/records"+tt.query, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, f.stats.limit)
				var resp struct {
					Records []*types.Snapshot `json:"records"`
					Count   int               `json:"count"`
				}
				decode(t, rec, &resp)
				assert.Equal(t, 1, resp.Count)
				assert.Equal(t, "DL123", resp.Records[0].FlightNumber)
			}
		})
	}
}

func TestCollectionToggle(t *testing.T) {
	f := newFixture()

	var resp CollectionResponse
	rec := f.do(http.MethodGet, "/api/collection", "")
	decode(t, rec, &resp)
	assert.False(t, resp.Active)

	rec = f.do(http.MethodPost, "/api/collection/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.True(t, resp.Active)

	rec = f.do(http.MethodPost, "/api/collection/now", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 1, f.stats.nowCalls)

	rec = f.do(http.MethodPost, "/api/collection/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.False(t, resp.Active)
}

func TestStartCollection_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no tracked flights", statistics.ErrNoTrackedFlights, http.StatusConflict},
		{"store failure", errors.New("db closed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.stats.startErr = tt.err

			rec := f.do(http.MethodPost, "/api/collection/start", "")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestStats(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var s types.PipelineStats
	decode(t, rec, &s)
	assert.Equal(t, uint64(7), s.APIRequests)

	noCounters := New(f.tracker, f.stats, f.store, nil, Config{}).Router()
	rec = httptest.NewRecorder()
	noCounters.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	handler := New(&mockTracker{}, &mockStatistics{}, &mockStore{}, nil, Config{AllowedOrigins: []string{"http://localhost:5173"}}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFlight(t *testing.T) {
	live := &types.FlightPayload{FlightStatus: "active", Flight: &types.FlightID{IATA: "DL123"}}
	stored := &types.Snapshot{ID: 4, FlightNumber: "DL123", FlightStatus: "scheduled"}

	tests := []struct {
		name       string
		path       string
		setup      func(f *fixture)
		wantStatus int
		wantLive   bool
		wantLatest bool
	}{
		{
			name: "cached and stored",
			path: "/api/flights/DL123",
			setup: func(f *fixture) {
				f.cache.flights["DL123"] = live
				f.store.snapshots["DL123"] = stored
			},
			wantStatus: http.StatusOK, wantLive: true, wantLatest: true,
		},
		{
			name:       "stored only, lower case number",
			path:       "/api/flights/dl123",
			setup:      func(f *fixture) { f.store.snapshots["DL123"] = stored },
			wantStatus: http.StatusOK, wantLatest: true,
		},
		{
			name: "cache failure falls back to the store",
			path: "/api/flights/DL123",
			setup: func(f *fixture) {
				f.cache.err = errors.New("redis down")
				f.store.snapshots["DL123"] = stored
			},
			wantStatus: http.StatusOK, wantLatest: true,
		},
		{
			name:       "cached only",
			path:       "/api/flights/DL123",
			setup:      func(f *fixture) { f.cache.flights["DL123"] = live },
			wantStatus: http.StatusOK, wantLive: true,
		},
		{
			name:       "unknown flight",
			path:       "/api/flights/ZZ9",
			setup:      func(f *fixture) {},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "store failure",
			path:       "/api/flights/DL123",
			setup:      func(f *fixture) { f.store.lookupErr = errors.New("db closed") },
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)

			rec := f.do(http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				var resp ErrorResponse
				decode(t, rec, &resp)
				assert.NotEmpty(t, resp.Error)
				return
			}

			var resp FlightResponse
			decode(t, rec, &resp)
			assert.Equal(t, "DL123", resp.FlightNumber)
			assert.Equal(t, tt.wantLive, resp.Live != nil)
			assert.Equal(t, tt.wantLatest, resp.Latest != nil)
			if tt.wantLatest {
				assert.Equal(t, int64(4), resp.Latest.ID)
			}
		})
	}
}

func TestFlight_WithoutCache(t *testing.T) {
	store := &mockStore{snapshots: map[string]*types.Snapshot{"DL123": {ID: 1, FlightNumber: "DL123"}}}
	handler := New(&mockTracker{}, &mockStatistics{}, store, nil, Config{}).Router()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/flights/DL123", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FlightResponse
	decode(t, rec, &resp)
	assert.Nil(t, resp.Live)
	assert.NotNil(t, resp.Latest)
}

func TestRouteStatistic(t *testing.T) {
	f := newFixture()
	f.stats.routes = []statistics.RouteStatistic{
		{DepartureAirport: "JFK", ArrivalAirport: "LAX", AverageTime: "5h 30m", AverageTimeMinutes: 330, FlightCount: 2},
	}

	rec := f.do(http.MethodGet, "/api/statistics/routes/jfk-LAX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stat statistics.RouteStatistic
	decode(t, rec, &stat)
	assert.Equal(t, "5h 30m", stat.AverageTime)
	assert.Equal(t, 2, stat.FlightCount)

	rec = f.do(http.MethodGet, "/api/statistics/routes/SFO-SEA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.stats.err = errors.New("boom")
	rec = f.do(http.MethodGet, "/api/statistics/routes/JFK-LAX", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatsHistory(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWindow time.Duration
	}{
		{"default window", "", http.StatusOK, DefaultHistoryWindow},
		{"duration", "?since=6h", http.StatusOK, 6 * time.Hour},
		{"negative duration", "?since=-1h", http.StatusBadRequest, 0},
		{"garbage", "?since=yesterday", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.history = []*types.PipelineStats{{Time: 2, APIRequests: 5}, {Time: 1, APIRequests: 3}}

			rec := f.do(http.MethodGet, "/api/stats/history"+tt.query, "")
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			assert.InDelta(t, tt.wantWindow.Seconds(), f.store.end.Sub(f.store.start).Seconds(), 1)
			var resp struct {
				History []*types.PipelineStats `json:"history"`
				Count   int                    `json:"count"`
			}
			decode(t, rec, &resp)
			assert.Equal(t, 2, resp.Count)
			assert.Equal(t, uint64(5), resp.History[0].APIRequests)
		})
	}
}

func TestStatsHistory_Since(t *testing.T) {
	f := newFixture()
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rec := f.do(http.MethodGet, "/api/stats/history?since="+since.Format(time.RFC3339), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.store.start.Equal(since), "start %s", f.store.start)

	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, float64(0), resp["count"])
	assert.NotNil(t, resp["history"])

	f.store.historyErr = errors.New("db closed")
	rec = f.do(http.MethodGet, "/api/stats/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
