package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// MockFlightPayload creates a flight on dep-arr scheduled for six hours on 2024-03-01
func MockFlightPayload(flightNumber, dep, arr string) *types.FlightPayload {
	return &types.FlightPayload{
		FlightDate:   "2024-03-01",
		FlightStatus: "scheduled",
		Departure: &types.Endpoint{
			Airport:   fmt.Sprintf("%s International", dep),
			IATA:      dep,
			Scheduled: "2024-03-01T08:00:00+00:00",
		},
		Arrival: &types.Endpoint{
			Airport:   fmt.Sprintf("%s International", arr),
			IATA:      arr,
			Scheduled: "2024-03-01T14:00:00+00:00",
		},
		Airline: &types.Airline{Name: "Test Airways"},
		Flight:  &types.FlightID{IATA: flightNumber},
	}
}

// MockFlightResponse renders an API response body carrying the given flights
func MockFlightResponse(flights ...*types.FlightPayload) []byte {
	if flights == nil {
		flights = []*types.FlightPayload{}
	}
	body, err := json.Marshal(&types.FlightResponse{
		Pagination: &types.Pagination{Limit: 100, Count: len(flights), Total: len(flights)},
		Data:       flights,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal mock response: %v", err))
	}
	return body
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
