package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// ErrRejected marks a payload that cannot become a snapshot
var ErrRejected = errors.New("record rejected")

const (
	defaultAirline = "Unknown Airline"
	defaultCity    = "Unknown City"

	// timeLayout is applied to the first 19 characters of an API timestamp;
	// any trailing fraction or offset is ignored
	timeLayout = "2006-01-02T15:04:05"
	dateLayout = "2006-01-02"
)

// ParseTime parses an API timestamp in loc and returns epoch milliseconds,
// or nil when the value is absent or unparsable
func ParseTime(value string, loc *time.Location) *int64 {
	value = strings.TrimSpace(value)
	if len(value) < len(timeLayout) {
		return nil
	}
	t, err := time.ParseInLocation(timeLayout, value[:len(timeLayout)], loc)
	if err != nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// Normalize converts an API payload into a snapshot. Payloads without a
// flight number or either airport code are rejected.
func (e *Engine) Normalize(p *types.FlightPayload, now time.Time) (*types.Snapshot, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrRejected)
	}

	flightNumber := strings.TrimSpace(p.FlightNumber())
	if flightNumber == "" {
		return nil, fmt.Errorf("%w: missing flight iata", ErrRejected)
	}
	route := p.Route()
	route.Departure = strings.TrimSpace(route.Departure)
	route.Arrival = strings.TrimSpace(route.Arrival)
	if route.Departure == "" {
		return nil, fmt.Errorf("%w: %s has no departure airport", ErrRejected, flightNumber)
	}
	if route.Arrival == "" {
		return nil, fmt.Errorf("%w: %s has no arrival airport", ErrRejected, flightNumber)
	}

	s := &types.Snapshot{
		FlightNumber:     flightNumber,
		Airline:          defaultAirline,
		FlightStatus:     p.FlightStatus,
		DepartureAirport: route.Departure,
		DepartureCity:    defaultCity,
		ArrivalAirport:   route.Arrival,
		ArrivalCity:      defaultCity,
		FlightDate:       p.FlightDate,
		CapturedAt:       now.UnixMilli(),
	}
	if p.Airline != nil && p.Airline.Name != "" {
		s.Airline = p.Airline.Name
	}
	if p.Departure.Airport != "" {
		s.DepartureCity = p.Departure.Airport
	}
	if p.Arrival.Airport != "" {
		s.ArrivalCity = p.Arrival.Airport
	}
	if s.FlightDate == "" {
		s.FlightDate = now.In(e.loc).Format(dateLayout)
	}

	schedDep := ParseTime(p.Departure.Scheduled, e.loc)
	schedArr := ParseTime(p.Arrival.Scheduled, e.loc)
	s.ActualDepartureTime = ParseTime(p.Departure.Actual, e.loc)
	s.ActualArrivalTime = ParseTime(p.Arrival.Actual, e.loc)
	if schedDep != nil {
		s.ScheduledDepartureTime = *schedDep
	}
	if schedArr != nil {
		s.ScheduledArrivalTime = *schedArr
	}
	s.DepartureDelayMinutes = p.Departure.Delay
	s.ArrivalDelayMinutes = p.Arrival.Delay

	s.FlightTimeMinutes = flightTime(schedDep, schedArr, s.ActualDepartureTime, s.ActualArrivalTime,
		s.DepartureDelayMinutes, s.ArrivalDelayMinutes)

	return s, nil
}

// flightTime derives the duration in whole minutes. Actual times win;
// otherwise scheduled times shifted by their delays are used.
func flightTime(schedDep, schedArr, actualDep, actualArr *int64, depDelay, arrDelay *int) *int {
	var minutes int64
	switch {
	case actualDep != nil && actualArr != nil:
		minutes = (*actualArr - *actualDep) / 60000
	case schedDep != nil && schedArr != nil:
		var depShift, arrShift int64
		if depDelay != nil {
			depShift = int64(*depDelay) * 60000
		}
		if arrDelay != nil {
			arrShift = int64(*arrDelay) * 60000
		}
		minutes = ((*schedArr + arrShift) - (*schedDep + depShift)) / 60000
	default:
		return nil
	}
	m := int(minutes)
	return &m
}
