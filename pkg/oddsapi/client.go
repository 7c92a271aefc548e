// Package oddsapi provides a rate-limited client for the sports odds provider.
package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/phenomenon0/parlay-agents/core"
)

const (
	// DefaultBaseURL is the provider's v4 API root.
	DefaultBaseURL = "https://api.the-odds-api.com/v4"

	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 2
	defaultRegion    = "us"
)

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client is an odds provider client.
type Client struct {
	baseURL    string
	apiKey     string
	region     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration

	remaining atomic.Int64
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithRegion sets the bookmaker region.
func WithRegion(region string) ClientOption {
	return func(c *Client) {
		c.region = region
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets how often retryable failures are repeated.
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// NewClient creates a new odds provider client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		region:  defaultRegion,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
	}
	c.remaining.Store(-1)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RemainingRequests returns the quota reported by the last response, or -1 if unknown.
func (c *Client) RemainingRequests() int64 {
	return c.remaining.Load()
}

// GetOdds fetches events with bulk markets for one sport.
func (c *Client) GetOdds(ctx context.Context, q OddsQuery) ([]core.Event, error) {
	if q.Sport == "" {
		return nil, fmt.Errorf("sport is required")
	}
	params := c.oddsParams(q.Markets, q.Bookmakers)
	setWindow(params, q.From, q.To)

	var events []apiEvent
	if err := c.get(ctx, "/sports/"+url.PathEscape(q.Sport)+"/odds", params, &events); err != nil {
		return nil, err
	}

	out := make([]core.Event, 0, len(events))
	for _, e := range events {
		out = append(out, e.toCore())
	}
	return out, nil
}

// ListEvents discovers fixtures for a sport without odds.
func (c *Client) ListEvents(ctx context.Context, sport string, from, to time.Time) ([]EventSummary, error) {
	params := url.Values{}
	params.Set("dateFormat", "iso")
	setWindow(params, from, to)

	var events []EventSummary
	if err := c.get(ctx, "/sports/"+url.PathEscape(sport)+"/events", params, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventOdds fetches markets for a single event. Prop markets are only
// available this way.
func (c *Client) GetEventOdds(ctx context.Context, sport, eventID string, markets, bookmakers []string) (*core.Event, error) {
	params := c.oddsParams(markets, bookmakers)

	var event apiEvent
	path := "/sports/" + url.PathEscape(sport) + "/events/" + url.PathEscape(eventID) + "/odds"
	if err := c.get(ctx, path, params, &event); err != nil {
		return nil, err
	}
	ev := event.toCore()
	return &ev, nil
}

func (c *Client) oddsParams(markets, bookmakers []string) url.Values {
	params := url.Values{}
	params.Set("oddsFormat", "american")
	params.Set("dateFormat", "iso")
	if len(markets) > 0 {
		params.Set("markets", strings.Join(markets, ","))
	}
	// bookmakers takes precedence over regions on the provider side
	if len(bookmakers) > 0 {
		params.Set("bookmakers", strings.Join(bookmakers, ","))
	} else {
		params.Set("regions", c.region)
	}
	return params
}

func setWindow(params url.Values, from, to time.Time) {
	if !from.IsZero() {
		params.Set("commenceTimeFrom", from.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if !to.IsZero() {
		params.Set("commenceTimeTo", to.UTC().Format("2006-01-02T15:04:05Z"))
	}
}

// get performs a GET request with rate limiting and retries.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			}
		}

		err := c.doGet(ctx, path, params, result)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("x-requests-remaining"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.remaining.Store(int64(n))
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
