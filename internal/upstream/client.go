// Package upstream provides a typed client for the potion logistics API.
// Every fetch runs behind a per-endpoint circuit breaker and a retry loop,
// so one flaky endpoint degrades on its own without stalling the rest.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/potionwatch/internal/circuitbreaker"
	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/retry"
	"github.com/mbd888/potionwatch/internal/traces"
)

// Endpoint paths on the upstream API.
const (
	pathMetadata  = "/api/Data/metadata"
	pathFrames    = "/api/Data"
	pathCauldrons = "/api/Information/cauldrons"
	pathMarket    = "/api/Information/market"
	pathCouriers  = "/api/Information/couriers"
	pathNetwork   = "/api/Information/network"
	pathTickets   = "/api/Tickets"
)

// ErrUnavailable is returned when the circuit for an endpoint is open.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Endpoint, e.StatusCode)
}

// Client fetches typed payloads from the upstream potion logistics API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets the retry attempt count and base backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client for the upstream API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		logger:      slog.Default(),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata fetches the time range covered by the level series.
func (c *Client) Metadata(ctx context.Context) (*Metadata, error) {
	var md Metadata
	if err := c.get(ctx, "metadata", pathMetadata, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Frames fetches the full minute-resolution level series.
func (c *Client) Frames(ctx context.Context) ([]Frame, error) {
	var frames []Frame
	if err := c.get(ctx, "frames", pathFrames, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

// Cauldrons fetches the cauldron directory.
func (c *Client) Cauldrons(ctx context.Context) ([]Cauldron, error) {
	var cauldrons []Cauldron
	if err := c.get(ctx, "cauldrons", pathCauldrons, &cauldrons); err != nil {
		return nil, err
	}
	return cauldrons, nil
}

// Market fetches the central market site.
func (c *Client) Market(ctx context.Context) (*Market, error) {
	var m Market
	if err := c.get(ctx, "market", pathMarket, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Couriers fetches the courier directory.
func (c *Client) Couriers(ctx context.Context) ([]Courier, error) {
	var couriers []Courier
	if err := c.get(ctx, "couriers", pathCouriers, &couriers); err != nil {
		return nil, err
	}
	return couriers, nil
}

// Network fetches the directed travel network edges.
func (c *Client) Network(ctx context.Context) ([]Edge, error) {
	var edges edgeList
	if err := c.get(ctx, "network", pathNetwork, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// Tickets fetches all logged transport tickets.
func (c *Client) Tickets(ctx context.Context) ([]Ticket, error) {
	var tickets ticketList
	if err := c.get(ctx, "tickets", pathTickets, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// get fetches path and decodes the response into out. The endpoint name keys
// the circuit breaker and metrics labels.
func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	if !c.breaker.Allow(endpoint) {
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", endpoint, ErrUnavailable)
	}

	ctx, span := traces.StartSpan(ctx, "upstream.get", traces.Endpoint(endpoint))
	defer span.End()

	timer := prometheus.NewTimer(metrics.UpstreamRequestDuration.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	err := retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		return c.fetch(ctx, endpoint, path, out)
	})
	if err != nil {
		c.breaker.RecordFailure(endpoint)
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		span.RecordError(err)
		c.logger.Warn("upstream fetch failed", "endpoint", endpoint, "error", err)
		return err
	}

	c.breaker.RecordSuccess(endpoint)
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "success").Inc()
	return nil
}

// fetch performs a single HTTP round trip. Server errors are retryable;
// client errors and decode failures are permanent.
func (c *Client) fetch(ctx context.Context, endpoint, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(&StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return nil
}
