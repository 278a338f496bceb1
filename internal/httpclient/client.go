// Package httpclient is the transport layer every resource client in this
// SDK goes through: a single retrying, concurrency-bounded HTTP client
// wrapping hashicorp/go-retryablehttp, the way internal/http.Client wraps
// net/http for pkg/capi.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/semaphore"

	"github.com/jules-labs/fleet/internal/constants"
	"github.com/jules-labs/fleet/pkg/jules"
)

// Request is one outgoing call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    interface{}
}

// Response is a fully-drained HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client is the Agent API transport: one X-Goog-Api-Key credential, one
// base URL, one retry policy, one concurrency semaphore.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	rc        *retryablehttp.Client
	sem       *semaphore.Weighted
	logger    jules.Logger
	debug     bool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger sets the structured logger used for request/response tracing
// when WithDebug(true) is also set.
func WithLogger(l jules.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDebug toggles verbose request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetryConfig overrides the full-jitter capped-exponential backoff
// policy (spec.md section 4.1): baseDelay is the exponential base, maxDelay
// caps the pre-jitter delay, and maxRetryTime bounds total wall-clock time
// spent retrying a single logical request.
func WithRetryConfig(maxRetryTime, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.rc.Backoff = fullJitterBackoff(baseDelay, maxDelay)
		c.rc.CheckRetry = checkRetryWithDeadline(maxRetryTime)
	}
}

// WithMaxConcurrentRequests bounds in-flight requests across all callers of
// this Client sharing the same semaphore.
func WithMaxConcurrentRequests(n int) Option {
	return func(c *Client) { c.sem = semaphore.NewWeighted(int64(n)) }
}

// WithHTTPTimeout sets the per-attempt timeout of the underlying transport.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.rc.HTTPClient.Timeout = d }
}

// NewClient builds a Client against baseURL, authenticating every request
// with apiKey when it is non-empty. Defaults match constants.Default*; pass
// options to override.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	rc.RetryMax = math.MaxInt32 // bounded by CheckRetry's wall-clock deadline, not an attempt count
	rc.Logger = nil             // we do our own structured logging, not retryablehttp's leveled logger
	rc.Backoff = fullJitterBackoff(constants.DefaultBaseDelayMs*time.Millisecond, constants.DefaultMaxDelayMs*time.Millisecond)
	rc.CheckRetry = checkRetryWithDeadline(constants.DefaultMaxRetryTimeMs * time.Millisecond)

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		rc:      rc,
		sem:     semaphore.NewWeighted(constants.DefaultMaxConcurrentRequests),
		logger:  jules.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type retryDeadlineKey struct{}

// checkRetryWithDeadline wraps retryablehttp.DefaultRetryPolicy's status
// classification (429 and 5xx retry, everything else including 401/403
// does not) with a wall-clock ceiling tracked via the request context.
func checkRetryWithDeadline(maxRetryTime time.Duration) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if start, ok := ctx.Value(retryDeadlineKey{}).(time.Time); ok {
			if time.Since(start) >= maxRetryTime {
				return false, nil
			}
		}
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		if resp == nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return true, nil
		}
		if resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}
}

// fullJitterBackoff implements delay = max(1, floor(rand() * min(base*2^n,
// maxDelay))) (spec.md section 4.1), ignoring retryablehttp's min/max
// parameters in favour of the closed-over base/max so WithRetryConfig can
// be set once at construction.
func fullJitterBackoff(base, max time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		capped := float64(base) * math.Pow(2, float64(attemptNum))
		if capped > float64(max) {
			capped = float64(max)
		}
		jittered := rand.Float64() * capped
		d := time.Duration(math.Floor(jittered))
		if d < time.Millisecond {
			d = time.Millisecond
		}
		return d
	}
}

// Do executes req, acquiring the concurrency semaphore for the duration of
// the call and stamping the retry deadline onto ctx.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, jules.NewError(jules.KindCancelled, "waiting for request slot", err, "")
	}
	defer c.sem.Release(1)

	ctx = context.WithValue(ctx, retryDeadlineKey{}, time.Now())

	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, jules.NewError(jules.KindAPI, "encoding request body", err, reqURL)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, reqURL, bodyReader)
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "building request", err, reqURL)
	}
	if c.apiKey != "" {
		rreq.Header.Set("X-Goog-Api-Key", c.apiKey)
	}
	rreq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		rreq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		rreq.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range req.Headers {
		rreq.Header.Set(k, v)
	}

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    jules.SanitizeURL(reqURL),
		})
	}

	resp, err := c.rc.Do(rreq)
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "request failed", err, reqURL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "reading response body", err, reqURL)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    jules.SanitizeURL(reqURL),
		})
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return out, jules.NewError(jules.KindAuthentication, fmt.Sprintf("authentication failed (%d)", resp.StatusCode), nil, reqURL)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return out, jules.NewError(jules.KindRateLimitExhausted, "rate limit retries exhausted", nil, reqURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, jules.NewError(jules.KindAPI, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil, reqURL)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}
