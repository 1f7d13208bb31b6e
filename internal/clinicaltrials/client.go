package clinicaltrials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// OperationName labels upstream queries for retry and breaker bookkeeping.
const OperationName = "queryUpstream"

const defaultBaseURL = "https://clinicaltrials.gov/api/v2/studies"

// QueryRequest identifies one upstream query. Rank bounds are 1-based and
// inclusive.
type QueryRequest struct {
	Mutation string
	MinRank  int
	MaxRank  int
}

// Normalize clamps rank bounds the way the API expects: MinRank at least
// 1, MaxRank at least MinRank (defaulting to a 10-result window).
func (r QueryRequest) Normalize() QueryRequest {
	r.Mutation = strings.TrimSpace(r.Mutation)
	if r.MinRank < 1 {
		r.MinRank = 1
	}
	if r.MaxRank < r.MinRank {
		r.MaxRank = r.MinRank + 9
	}
	return r
}

// PageSize returns the number of results the request asks for.
func (r QueryRequest) PageSize() int { return r.MaxRank - r.MinRank + 1 }

// CacheKey returns the deterministic fingerprint used to cache this
// request's result.
func (r QueryRequest) CacheKey() string {
	r = r.Normalize()
	return fmt.Sprintf("trials:%s:%d:%d", strings.ToLower(r.Mutation), r.MinRank, r.MaxRank)
}

// ParseCacheKey is the inverse of CacheKey. The warmer uses it to turn
// configured keys back into runnable queries.
func ParseCacheKey(key string) (QueryRequest, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[0] != "trials" {
		return QueryRequest{}, fmt.Errorf("malformed cache key %q", key)
	}
	minRank, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return QueryRequest{}, fmt.Errorf("malformed cache key %q: %w", key, err)
	}
	maxRank, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return QueryRequest{}, fmt.Errorf("malformed cache key %q: %w", key, err)
	}
	mutation := strings.Join(parts[1:len(parts)-2], ":")
	if mutation == "" {
		return QueryRequest{}, fmt.Errorf("malformed cache key %q: empty mutation", key)
	}
	return QueryRequest{Mutation: mutation, MinRank: minRank, MaxRank: maxRank}.Normalize(), nil
}

// Client queries the clinicaltrials.gov v2 studies API. Failures are
// classified for the retry layer: connectivity problems, 5xx and 429 are
// transient; input and auth problems are permanent.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different endpoint. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client with a 10s request timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query fetches studies matching the request's mutation term.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	req = req.Normalize()
	if req.Mutation == "" {
		return nil, &resilience.PermanentError{
			Operation: OperationName,
			Err:       errors.New("mutation must be a non-empty string"),
		}
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("query.term", req.Mutation)
	q.Set("pageSize", strconv.Itoa(req.PageSize()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &resilience.PermanentError{Operation: OperationName, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Info("querying clinicaltrials.gov", "mutation", req.Mutation, "page_size", req.PageSize())
	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures retry upstream.
		return nil, &resilience.TransientError{Operation: OperationName, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var out QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A body that is not the documented JSON shape is usually an
		// upstream outage page.
		return nil, &resilience.TransientError{
			Operation: OperationName,
			Err:       fmt.Errorf("decoding response: %w", err),
		}
	}

	for _, issue := range ValidateResponse(&out) {
		c.logger.Warn("response shape issue", "field", issue.Field, "issue", issue.Message)
	}

	c.logger.Info("upstream query complete", "mutation", req.Mutation, "studies", len(out.Studies))
	return &out, nil
}

// classifyStatus maps an HTTP status to the error taxonomy. 2xx is nil.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &resilience.TransientError{
			Operation:   OperationName,
			RateLimited: true,
			Err:         fmt.Errorf("status %d", code),
		}
	case code >= 500:
		return &resilience.TransientError{
			Operation: OperationName,
			Err:       fmt.Errorf("status %d", code),
		}
	default:
		return &resilience.PermanentError{
			Operation: OperationName,
			Err:       fmt.Errorf("status %d", code),
		}
	}
}
