// Package upstream talks to the transit REST API
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/models"
)

var (
	// ErrStopNotFound is returned when the stop metadata request is not 2xx
	ErrStopNotFound = errors.New("stop not found")
	// ErrFetchFailed is returned when a realtime request is not 2xx
	ErrFetchFailed = errors.New("realtime fetch failed")
	// ErrUnexpectedStatus is returned by the other endpoints on a non-2xx reply
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Client fetches stops, arrivals, vehicles, patterns and shapes
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends key in the x-api-key header
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests at perSecond with the given burst
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the logger used for close errors
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetStop fetches metadata for one stop
func (c *Client) GetStop(ctx context.Context, stopID string) (models.StopInfo, error) {
	var info models.StopInfo
	status, err := c.getJSON(ctx, "/stops/"+url.PathEscape(stopID), &info)
	if err != nil {
		return info, err
	}
	if !ok(status) {
		return info, fmt.Errorf("stop %s: HTTP %d: %w", stopID, status, ErrStopNotFound)
	}
	return info, nil
}

// GetRealtime fetches the raw arrivals for one stop
func (c *Client) GetRealtime(ctx context.Context, stopID string) ([]models.ArrivalRecord, error) {
	var records []models.ArrivalRecord
	status, err := c.getJSON(ctx, "/stops/"+url.PathEscape(stopID)+"/realtime", &records)
	if err != nil {
		return nil, fmt.Errorf("stop %s: %v: %w", stopID, err, ErrFetchFailed)
	}
	if !ok(status) {
		return nil, fmt.Errorf("stop %s: HTTP %d: %w", stopID, status, ErrFetchFailed)
	}
	return records, nil
}

// GetVehicles fetches every live vehicle position
func (c *Client) GetVehicles(ctx context.Context) ([]models.VehiclePosition, error) {
	var vehicles []models.VehiclePosition
	if err := c.getOK(ctx, "/vehicles", &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// GetPattern fetches one route pattern
func (c *Client) GetPattern(ctx context.Context, patternID string) (models.Pattern, error) {
	var pattern models.Pattern
	if err := c.getOK(ctx, "/patterns/"+url.PathEscape(patternID), &pattern); err != nil {
		return pattern, err
	}
	if pattern.ID == "" {
		pattern.ID = patternID
	}
	return pattern, nil
}

// GetShape fetches the geometry of one shape
func (c *Client) GetShape(ctx context.Context, shapeID string) (models.Shape, error) {
	var shape models.Shape
	if err := c.getOK(ctx, "/shapes/"+url.PathEscape(shapeID), &shape); err != nil {
		return shape, err
	}
	if shape.ID == "" {
		shape.ID = shapeID
	}
	return shape, nil
}

func (c *Client) getOK(ctx context.Context, path string, out interface{}) error {
	status, err := c.getJSON(ctx, path, out)
	if err != nil {
		return err
	}
	if !ok(status) {
		return fmt.Errorf("%s: HTTP %d: %w", path, status, ErrUnexpectedStatus)
	}
	return nil
}

// getJSON decodes the body into out only for 2xx replies
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "upstream_response_body")

	if !ok(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}
