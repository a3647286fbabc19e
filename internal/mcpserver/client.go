package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the potionwatch service.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// PotionwatchClient is a pure HTTP client for the potionwatch service API.
type PotionwatchClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewPotionwatchClient creates a new client for the potionwatch service.
func NewPotionwatchClient(cfg Config) *PotionwatchClient {
	return &PotionwatchClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the service.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the service and returns the response body.
func (c *PotionwatchClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetClock returns the current playback clock state.
func (c *PotionwatchClient) GetClock(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/clock", nil, nil)
}

// SeekClock moves the clock to a minute offset or an absolute timestamp.
// The service prefers the timestamp when both are present.
func (c *PotionwatchClient) SeekClock(ctx context.Context, minute *int, timestamp string) (json.RawMessage, error) {
	body := map[string]any{}
	if minute != nil {
		body["minute"] = *minute
	}
	if timestamp != "" {
		body["ts"] = timestamp
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/clock/seek", nil, body)
}

// SetPaused starts or stops playback.
func (c *PotionwatchClient) SetPaused(ctx context.Context, paused bool) (json.RawMessage, error) {
	path := "/v1/clock/play"
	if paused {
		path = "/v1/clock/pause"
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// SetSpeed changes the playback speed multiplier.
func (c *PotionwatchClient) SetSpeed(ctx context.Context, multiplier int) (json.RawMessage, error) {
	body := map[string]int{"multiplier": multiplier}
	return c.doRequest(ctx, http.MethodPost, "/v1/clock/speed", nil, body)
}

// GetLevelsAt returns the level frame at an exact sample timestamp.
func (c *PotionwatchClient) GetLevelsAt(ctx context.Context, timestamp string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("ts", timestamp)
	return c.doRequest(ctx, http.MethodGet, "/v1/levels/at", q, nil)
}

// ListCauldrons returns the cauldron directory.
func (c *PotionwatchClient) ListCauldrons(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/cauldrons", nil, nil)
}

// AuditDay returns the reconciliation report for one calendar day.
func (c *PotionwatchClient) AuditDay(ctx context.Context, date string) (json.RawMessage, error) {
	path := "/v1/audit/" + url.PathEscape(date)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// FlaggedDays returns the stored day reports that flagged discrepancies.
func (c *PotionwatchClient) FlaggedDays(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/audit/flagged", q, nil)
}

// TravelTimes returns the all-pairs travel time matrix for the network.
func (c *PotionwatchClient) TravelTimes(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/network/travel-times", nil, nil)
}
