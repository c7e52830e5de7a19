package types

// FlightResponse is the envelope returned by the flight-status API
type FlightResponse struct {
	Pagination *Pagination      `json:"pagination,omitempty"`
	Data       []*FlightPayload `json:"data"`
	Error      *APIError        `json:"error,omitempty"`
}

// Pagination describes the result window of a FlightResponse
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
	Total  int `json:"total"`
}

// APIError is the error object the API may embed in a 2xx response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FlightPayload is a single flight as reported by the API
type FlightPayload struct {
	FlightDate   string    `json:"flight_date,omitempty"`
	FlightStatus string    `json:"flight_status,omitempty"`
	Departure    *Endpoint `json:"departure,omitempty"`
	Arrival      *Endpoint `json:"arrival,omitempty"`
	Airline      *Airline  `json:"airline,omitempty"`
	Flight       *FlightID `json:"flight,omitempty"`
	Aircraft     *Aircraft `json:"aircraft,omitempty"`
	Live         *Live     `json:"live,omitempty"`
}

// Endpoint is the departure or arrival side of a flight
type Endpoint struct {
	Airport   string `json:"airport,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	IATA      string `json:"iata,omitempty"`
	ICAO      string `json:"icao,omitempty"`
	Terminal  string `json:"terminal,omitempty"`
	Gate      string `json:"gate,omitempty"`
	Delay     *int   `json:"delay,omitempty"`
	Scheduled string `json:"scheduled,omitempty"`
	Estimated string `json:"estimated,omitempty"`
	Actual    string `json:"actual,omitempty"`
}

// Airline identifies the operating carrier
type Airline struct {
	Name string `json:"name,omitempty"`
	IATA string `json:"iata,omitempty"`
	ICAO string `json:"icao,omitempty"`
}

// FlightID holds the flight designators
type FlightID struct {
	Number string `json:"number,omitempty"`
	IATA   string `json:"iata,omitempty"`
	ICAO   string `json:"icao,omitempty"`
}

// Aircraft identifies the airframe
type Aircraft struct {
	Registration string `json:"registration,omitempty"`
	IATA         string `json:"iata,omitempty"`
	ICAO         string `json:"icao,omitempty"`
	ICAO24       string `json:"icao24,omitempty"`
}

// Live is the most recent position report, when the flight is airborne
type Live struct {
	Updated         string   `json:"updated,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Altitude        *float64 `json:"altitude,omitempty"`
	Direction       *float64 `json:"direction,omitempty"`
	SpeedHorizontal *float64 `json:"speed_horizontal,omitempty"`
	SpeedVertical   *float64 `json:"speed_vertical,omitempty"`
	IsGround        *bool    `json:"is_ground,omitempty"`
}

// FlightNumber returns the IATA flight designator, or "" when absent
func (p *FlightPayload) FlightNumber() string {
	if p == nil || p.Flight == nil {
		return ""
	}
	return p.Flight.IATA
}

// Route returns the departure/arrival pair of the payload. Missing codes are empty.
func (p *FlightPayload) Route() Route {
	var r Route
	if p == nil {
		return r
	}
	if p.Departure != nil {
		r.Departure = p.Departure.IATA
	}
	if p.Arrival != nil {
		r.Arrival = p.Arrival.IATA
	}
	return r
}

// Route is an ordered departure/arrival airport pair
type Route struct {
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
}

// Valid reports whether both airport codes are set
func (r Route) Valid() bool {
	return r.Departure != "" && r.Arrival != ""
}

// String renders the route as "DEP-ARR"
func (r Route) String() string {
	return r.Departure + "-" + r.Arrival
}

// Snapshot is one stored observation of a flight (a flight_records row).
// All times are epoch milliseconds.
type Snapshot struct {
	ID                     int64  `json:"id"`
	FlightNumber           string `json:"flight_number"`
	Airline                string `json:"airline"`
	FlightStatus           string `json:"flight_status,omitempty"`
	DepartureAirport       string `json:"departure_airport"`
	DepartureCity          string `json:"departure_city"`
	ArrivalAirport         string `json:"arrival_airport"`
	ArrivalCity            string `json:"arrival_city"`
	ScheduledDepartureTime int64  `json:"scheduled_departure_time"`
	ActualDepartureTime    *int64 `json:"actual_departure_time,omitempty"`
	ScheduledArrivalTime   int64  `json:"scheduled_arrival_time"`
	ActualArrivalTime      *int64 `json:"actual_arrival_time,omitempty"`
	DepartureDelayMinutes  *int   `json:"departure_delay_minutes,omitempty"`
	ArrivalDelayMinutes    *int   `json:"arrival_delay_minutes,omitempty"`
	FlightTimeMinutes      *int   `json:"flight_time_minutes,omitempty"`
	FlightDate             string `json:"flight_date"`
	CapturedAt             int64  `json:"captured_at"`
}

// Route returns the snapshot's route
func (s *Snapshot) Route() Route {
	return Route{Departure: s.DepartureAirport, Arrival: s.ArrivalAirport}
}

// RouteAggregate holds precomputed statistics for one route (a route_statistics row)
type RouteAggregate struct {
	DepartureAirport         string `json:"departure_airport"`
	DepartureCity            string `json:"departure_city"`
	ArrivalAirport           string `json:"arrival_airport"`
	ArrivalCity              string `json:"arrival_city"`
	AverageFlightTimeMinutes int    `json:"average_flight_time_minutes"`
	FlightCount              int    `json:"flight_count"`
	LastUpdated              int64  `json:"last_updated"`
}

// Route returns the aggregate's route
func (a *RouteAggregate) Route() Route {
	return Route{Departure: a.DepartureAirport, Arrival: a.ArrivalAirport}
}

// CollectionState is the bookkeeping consulted by the background collection job
type CollectionState struct {
	CollectionCount    int    `json:"collection_count"`
	LastCollectionTime int64  `json:"last_collection_time"`
	Route              *Route `json:"route,omitempty"`
}

// PipelineStats is a point-in-time dump of the pipeline counters (a pipeline_stats row)
type PipelineStats struct {
	Time                 int64  `json:"time"`
	APIRequests          uint64 `json:"api_requests"`
	APIFailures          uint64 `json:"api_failures"`
	FlightsNotFound      uint64 `json:"flights_not_found"`
	SnapshotsStored      uint64 `json:"snapshots_stored"`
	RecordsRejected      uint64 `json:"records_rejected"`
	StoreFailures        uint64 `json:"store_failures"`
	CollectionsSucceeded uint64 `json:"collections_succeeded"`
	CollectionsSkipped   uint64 `json:"collections_skipped"`
	CollectionsFailed    uint64 `json:"collections_failed"`
	UptimeSeconds        int64  `json:"uptime_seconds"`
}

// TrackingState is the phase of a tracking session
type TrackingState string

const (
	TrackingInitial TrackingState = "initial"
	TrackingLoading TrackingState = "loading"
	TrackingSuccess TrackingState = "success"
	TrackingError   TrackingState = "error"
)

// TrackingStatus is the published state of the tracking session
type TrackingStatus struct {
	State        TrackingState  `json:"state"`
	FlightNumber string         `json:"flight_number,omitempty"`
	Flight       *FlightPayload `json:"flight,omitempty"`
	Message      string         `json:"message,omitempty"`
	Stopped      bool           `json:"stopped"`
	SessionID    string         `json:"session_id,omitempty"`
	LastFetch    int64          `json:"last_fetch,omitempty"`
}
