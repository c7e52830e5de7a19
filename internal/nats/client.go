package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

const (
	// SubjectSnapshots carries every stored snapshot (JetStream)
	SubjectSnapshots = "flights.snapshots"
	// SubjectStatus carries tracking status changes
	SubjectStatus = "flights.status"
	// SubjectCollect triggers a one-shot collection on any message
	SubjectCollect = "flights.collect"

	StreamName = "FLIGHT_SNAPSHOTS"
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("flight-tracker"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create stream if it doesn't exist
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectSnapshots},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishSnapshot publishes a stored snapshot to the snapshot stream
func (c *Client) PublishSnapshot(s *types.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if _, err := c.js.Publish(SubjectSnapshots, data); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// PublishStatus publishes a tracking status change
func (c *Client) PublishStatus(s *types.TrackingStatus) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := c.conn.Publish(SubjectStatus, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// SubscribeCollect calls handler for every collection trigger message
func (c *Client) SubscribeCollect(handler func()) error {
	_, err := c.conn.Subscribe(SubjectCollect, func(msg *nats.Msg) {
		handler()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
