package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// Keys holding the collection bookkeeping
const (
	KeyCollectionCount = "collection:count"
	KeyLastCollection  = "collection:last_time"
	KeyCollectionRoute = "collection:route"
	KeyCollectionOn    = "collection:active"
)

// FlightTTL is how long a cached flight payload is kept
const FlightTTL = time.Hour

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client. addr is host:port or a redis:// URL.
func New(addr string) (*Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func flightKey(flightNumber string) string {
	return fmt.Sprintf("flight:%s", flightNumber)
}

// CacheFlight stores the latest payload of a flight
func (c *Client) CacheFlight(ctx context.Context, p *types.FlightPayload) error {
	number := p.FlightNumber()
	if number == "" {
		return errors.New("flight payload has no flight number")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal flight data: %w", err)
	}

	return c.client.Set(ctx, flightKey(number), data, FlightTTL).Err()
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil // Data not found
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}

// GetFlight returns the cached payload of a flight, or nil when none is cached
func (c *Client) GetFlight(ctx context.Context, flightNumber string) (*types.FlightPayload, error) {
	var p types.FlightPayload
	found, err := c.getData(ctx, flightKey(flightNumber), &p, "flight")
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// DeleteFlight removes a cached flight
func (c *Client) DeleteFlight(ctx context.Context, flightNumber string) error {
	return c.client.Del(ctx, flightKey(flightNumber)).Err()
}

func (c *Client) getInt(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

// LoadState returns the collection bookkeeping, zero-valued when never saved
func (c *Client) LoadState(ctx context.Context) (*types.CollectionState, error) {
	count, err := c.getInt(ctx, KeyCollectionCount)
	if err != nil {
		return nil, err
	}
	last, err := c.getInt(ctx, KeyLastCollection)
	if err != nil {
		return nil, err
	}

	state := &types.CollectionState{
		CollectionCount:    int(count),
		LastCollectionTime: last,
	}

	var route types.Route
	found, err := c.getData(ctx, KeyCollectionRoute, &route, "collection route")
	if err != nil {
		return nil, err
	}
	if found && route.Valid() {
		state.Route = &route
	}
	return state, nil
}

// SaveState writes the collection bookkeeping. A nil route clears the saved one.
func (c *Client) SaveState(ctx context.Context, state *types.CollectionState) error {
	if err := c.client.Set(ctx, KeyCollectionCount, state.CollectionCount, 0).Err(); err != nil {
		return fmt.Errorf("failed to save collection count: %w", err)
	}
	if err := c.client.Set(ctx, KeyLastCollection, state.LastCollectionTime, 0).Err(); err != nil {
		return fmt.Errorf("failed to save last collection time: %w", err)
	}

	if state.Route == nil {
		if err := c.client.Del(ctx, KeyCollectionRoute).Err(); err != nil {
			return fmt.Errorf("failed to clear collection route: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(state.Route)
	if err != nil {
		return fmt.Errorf("failed to marshal collection route: %w", err)
	}
	if err := c.client.Set(ctx, KeyCollectionRoute, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save collection route: %w", err)
	}
	return nil
}

// ResetState zeroes the collection counters, keeping the saved route
func (c *Client) ResetState(ctx context.Context) error {
	for _, key := range []string{KeyCollectionCount, KeyLastCollection} {
		if err := c.client.Set(ctx, key, 0, 0).Err(); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}
	return nil
}

// LoadCollectionActive reports whether periodic collection was left switched on
func (c *Client) LoadCollectionActive(ctx context.Context) (bool, error) {
	n, err := c.getInt(ctx, KeyCollectionOn)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveCollectionActive records whether periodic collection is switched on
func (c *Client) SaveCollectionActive(ctx context.Context, active bool) error {
	value := 0
	if active {
		value = 1
	}
	if err := c.client.Set(ctx, KeyCollectionOn, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save collection switch: %w", err)
	}
	return nil
}
