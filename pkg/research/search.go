// Package research attaches free-text context from a web search provider to
// the events most likely to end up in a parlay.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultSearchURL is the search provider endpoint.
	DefaultSearchURL = "https://google.serper.dev"

	defaultSearchRate  = 20.0
	defaultSearchBurst = 10
)

// SearchResult is one organic hit.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// SearchClient queries the search provider.
type SearchClient struct {
	baseURL    string
	apiKey     string
	numResults int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// SearchOption configures the client.
type SearchOption func(*SearchClient)

// WithSearchURL sets a custom base URL.
func WithSearchURL(u string) SearchOption {
	return func(c *SearchClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSearchKey sets the API key.
func WithSearchKey(key string) SearchOption {
	return func(c *SearchClient) { c.apiKey = key }
}

// WithSearchRateLimit sets custom rate limiting.
func WithSearchRateLimit(rps float64, burst int) SearchOption {
	return func(c *SearchClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithNumResults caps the results requested per query.
func WithNumResults(n int) SearchOption {
	return func(c *SearchClient) { c.numResults = n }
}

// NewSearchClient creates a search client.
func NewSearchClient(opts ...SearchOption) *SearchClient {
	c := &SearchClient{
		baseURL:    DefaultSearchURL,
		numResults: 5,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultSearchRate), defaultSearchBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type searchResponse struct {
	Organic []SearchResult `json:"organic"`
}

// Search runs a free-text query and returns hits in provider order.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(searchRequest{Q: query, Num: c.numResults})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(b))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if c.numResults > 0 && len(out.Organic) > c.numResults {
		out.Organic = out.Organic[:c.numResults]
	}
	return out.Organic, nil
}
