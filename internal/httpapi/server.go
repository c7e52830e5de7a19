// Package httpapi exposes the tracking and statistics controllers over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/statistics"
	"github.com/pranav412-code/Flight-Tracker/internal/tracking"
	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

const requestTimeout = 5 * time.Second

// DefaultHistoryWindow is how far back /api/stats/history reads without ?since=
const DefaultHistoryWindow = 24 * time.Hour

// Tracker is the tracking session controller
type Tracker interface {
	TrackFlight(flightNumber string) error
	StopTracking()
	Status() types.TrackingStatus
}

// Statistics is the statistics view controller
type Statistics interface {
	RouteStatistics(ctx context.Context) ([]statistics.RouteStatistic, error)
	RouteStatistic(ctx context.Context, route types.Route) (*statistics.RouteStatistic, error)
	FlightRecords(ctx context.Context, limit int) ([]*types.Snapshot, error)
	CollectionActive() bool
	StartCollection(ctx context.Context) error
	StopCollection()
	CollectNow() string
}

// Store is the record store the API reads directly
type Store interface {
	Ping(ctx context.Context) error
	LatestSnapshotByFlight(ctx context.Context, flightNumber string) (*types.Snapshot, error)
	GetPipelineStats(ctx context.Context, start, end time.Time) ([]*types.PipelineStats, error)
}

// FlightCache holds the latest fetched payload of the tracked flight
type FlightCache interface {
	GetFlight(ctx context.Context, flightNumber string) (*types.FlightPayload, error)
}

// Counters exposes the pipeline counters
type Counters interface {
	GetStats() *types.PipelineStats
}

// Config holds the listener settings
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server serves the REST API
type Server struct {
	tracker  Tracker
	stats    Statistics
	store    Store
	counters Counters
	cache    FlightCache
	cfg      Config
}

// Option configures a Server
type Option func(*Server)

// WithFlightCache serves live payloads from the flight cache
func WithFlightCache(fc FlightCache) Option {
	return func(s *Server) { s.cache = fc }
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// TrackRequest is the body of POST /api/track
type TrackRequest struct {
	FlightNumber string `json:"flight_number"`
}

// FlightResponse is the body of GET /api/flights/{number}. Live is the
// cached API payload, Latest the newest stored snapshot.
type FlightResponse struct {
	FlightNumber string               `json:"flight_number"`
	Live         *types.FlightPayload `json:"live,omitempty"`
	Latest       *types.Snapshot      `json:"latest,omitempty"`
}

// CollectionResponse reports the collection toggle
type CollectionResponse struct {
	Active bool   `json:"active"`
	RunID  string `json:"run_id,omitempty"`
}

// New creates a server. counters may be nil.
func New(tracker Tracker, stats Statistics, store Store, counters Counters, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		tracker:  tracker,
		stats:    stats,
		store:    store,
		counters: counters,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the configured chi router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/track", s.handleTrackStatus)
		r.Post("/track", s.handleTrack)
		r.Post("/track/stop", s.handleStopTracking)

		r.Get("/flights/{number}", s.handleFlight)

		r.Get("/statistics/routes", s.handleRouteStatistics)
		r.Get("/statistics/routes/{departure}-{arrival}", s.handleRouteStatistic)
		r.Get("/statistics/records", s.handleFlightRecords)

		r.Get("/collection", s.handleCollection)
		r.Post("/collection/start", s.handleStartCollection)
		r.Post("/collection/stop", s.handleStopCollection)
		r.Post("/collection/now", s.handleCollectNow)

		r.Get("/stats", s.handleStats)
		r.Get("/stats/history", s.handleStatsHistory)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": time.Now().UTC(),
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleTrackStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.tracker.TrackFlight(req.FlightNumber); err != nil {
		if errors.Is(err, tracking.ErrInvalidFlightNumber) {
			writeError(w, http.StatusBadRequest, tracking.MessageInvalidFlightNumber)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.tracker.Status())
}

func (s *Server) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	s.tracker.StopTracking()
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	number := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "number")))
	if number == "" {
		writeError(w, http.StatusBadRequest, tracking.MessageInvalidFlightNumber)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp := FlightResponse{FlightNumber: number}
	if s.cache != nil {
		live, err := s.cache.GetFlight(ctx, number)
		if err != nil {
			log.Printf("httpapi: failed to read cached %s: %v", number, err)
		}
		resp.Live = live
	}

	latest, err := s.store.LatestSnapshotByFlight(ctx, number)
	switch {
	case err == nil:
		resp.Latest = latest
	case !errors.Is(err, db.ErrNotFound):
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve flight")
		return
	}

	if resp.Live == nil && resp.Latest == nil {
		writeError(w, http.StatusNotFound, tracking.MessageFlightNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRouteStatistic(w http.ResponseWriter, r *http.Request) {
	route := types.Route{
		Departure: strings.ToUpper(chi.URLParam(r, "departure")),
		Arrival:   strings.ToUpper(chi.URLParam(r, "arrival")),
	}
	if !route.Valid() {
		writeError(w, http.StatusBadRequest, "route must be DEP-ARR")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stat, err := s.stats.RouteStatistic(ctx, route)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no statistics for route "+route.String())
		return
	}
	if err != nil {
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve route statistics")
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

func (s *Server) handleRouteStatistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	routes, err := s.stats.RouteStatistics(ctx)
	if err != nil {
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve route statistics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes": routes,
		"count":  len(routes),
	})
}

func (s *Server) handleFlightRecords(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	records, err := s.stats.FlightRecords(ctx, limit)
	if err != nil {
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve flight records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CollectionResponse{Active: s.stats.CollectionActive()})
}

func (s *Server) handleStartCollection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.stats.StartCollection(ctx); err != nil {
		if errors.Is(err, statistics.ErrNoTrackedFlights) {
			writeError(w, http.StatusConflict, "track a flight before starting collection")
			return
		}
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start collection")
		return
	}
	writeJSON(w, http.StatusOK, CollectionResponse{Active: s.stats.CollectionActive()})
}

func (s *Server) handleStopCollection(w http.ResponseWriter, r *http.Request) {
	s.stats.StopCollection()
	writeJSON(w, http.StatusOK, CollectionResponse{Active: s.stats.CollectionActive()})
}

func (s *Server) handleCollectNow(w http.ResponseWriter, r *http.Request) {
	runID := s.stats.CollectNow()
	writeJSON(w, http.StatusAccepted, CollectionResponse{Active: s.stats.CollectionActive(), RunID: runID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.counters == nil {
		writeError(w, http.StatusNotFound, "pipeline counters are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.counters.GetStats())
}

// parseSince reads ?since= as an RFC 3339 time or a look-back duration such as "6h"
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.Add(-DefaultHistoryWindow), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Time{}, errors.New("since must be an RFC 3339 time or a positive duration")
	}
	return now.Add(-d), nil
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	since, err := parseSince(r.URL.Query().Get("since"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	history, err := s.store.GetPipelineStats(ctx, since, now)
	if err != nil {
		log.Printf("httpapi: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve pipeline statistics")
		return
	}
	if history == nil {
		history = []*types.PipelineStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
