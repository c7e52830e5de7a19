// Package flightapi queries an aviationstack-style flight-status REST API.
package flightapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/types"
)

// DefaultBaseURL is the public aviationstack endpoint
const DefaultBaseURL = "http://api.aviationstack.com/v1"

const maxBodySize = 4 << 20

// Recorder receives every raw successful response body
type Recorder interface {
	WriteMessage(data []byte) error
}

// Client fetches single flights from the API. It never retries.
type Client struct {
	BaseURL    string
	AccessKey  string
	HTTPClient *http.Client
	Recorder   Recorder
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTimeout sets the request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient = &http.Client{Timeout: d} }
}

// WithRecorder archives raw response bodies
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.Recorder = r }
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, accessKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccessKey:  accessKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchByNumber returns the first flight matching an IATA flight number
func (c *Client) FetchByNumber(ctx context.Context, flightNumber string) (*types.FlightPayload, error) {
	v := url.Values{}
	v.Set("flight_iata", flightNumber)
	return c.fetch(ctx, v)
}

// FetchByRoute returns the first flight flying between two airports
func (c *Client) FetchByRoute(ctx context.Context, depIATA, arrIATA string) (*types.FlightPayload, error) {
	v := url.Values{}
	v.Set("dep_iata", depIATA)
	v.Set("arr_iata", arrIATA)
	return c.fetch(ctx, v)
}

func (c *Client) fetch(ctx context.Context, params url.Values) (*types.FlightPayload, error) {
	params.Set("access_key", c.AccessKey)
	endpoint := c.BaseURL + "/flights?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing response body: %v\n", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &Error{Kind: KindAPI, Detail: fmt.Sprintf("%s: %s", resp.Status, msg)}
	}

	var payload types.FlightResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Kind: KindAPI, Detail: "decode response", Err: err}
	}
	if payload.Error != nil {
		detail := payload.Error.Message
		if payload.Error.Code != "" {
			detail = payload.Error.Code + ": " + detail
		}
		return nil, &Error{Kind: KindAPI, Detail: detail}
	}

	if c.Recorder != nil {
		if err := c.Recorder.WriteMessage(body); err != nil {
			log.Printf("flightapi: failed to archive response: %v", err)
		}
	}

	if len(payload.Data) == 0 || payload.Data[0] == nil {
		return nil, ErrNotFound
	}
	return payload.Data[0], nil
}
