package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	planerr "github.com/swapplan/swapplan/internal/errors"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultAttempts    = 3
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 10 * time.Second
)

// Client is a JSON HTTP client that transparently retries transient
// upstream failures (connection errors, timeouts, 5xx) with exponential
// backoff. Every other failure surfaces on the first attempt: retry never
// happens above this layer.
type Client struct {
	httpClient  *http.Client
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	userAgent   string
	logger      *zap.Logger
}

type Option func(*Client)

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithAttempts sets the total number of tries, including the first.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithBackoff(base, limit time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if limit > 0 {
			c.backoffCap = limit
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		attempts:    DefaultAttempts,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
		userAgent:   "swapplan/1.0",
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError reports a non-2xx, non-5xx upstream status. The transport
// does not interpret these; callers map status and body wording onto their
// own error taxonomy.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// DecodeError reports a 2xx response whose payload was empty or not valid
// JSON for the expected shape.
type DecodeError struct {
	Cause error
	Body  []byte
}

func (e *DecodeError) Error() string {
	if e.Cause == nil {
		return "upstream returned empty response"
	}
	return fmt.Sprintf("decode upstream response: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// DoJSON executes the request and decodes the JSON response into out.
// Connection failures, timeouts and 5xx responses are retried up to the
// configured attempt budget; everything else returns immediately.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying upstream request",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, planerr.Wrap(planerr.KindUpstreamUnavailable, "upstream request cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, planerr.Wrap(planerr.KindInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.attempts {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = planerr.Wrap(planerr.KindUpstreamUnavailable, "read upstream response", readErr)
			if attempt < c.attempts {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = planerr.New(planerr.KindUpstreamUnavailable, fmt.Sprintf("upstream unavailable (status %d)", resp.StatusCode))
			if attempt < c.attempts {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, &StatusError{StatusCode: resp.StatusCode, Body: buf}
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, &DecodeError{Body: buf}
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, &DecodeError{Cause: err, Body: buf}
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, planerr.New(planerr.KindUpstreamUnavailable, "upstream request failed")
}

// DoBodyJSON builds and executes a request with an optional JSON body.
func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, planerr.Wrap(planerr.KindInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return planerr.Wrap(planerr.KindUpstreamUnavailable, "upstream timeout", err)
	}
	return planerr.Wrap(planerr.KindUpstreamUnavailable, "upstream request failed", err)
}

// backoff returns the delay before retry n (1-based): base doubled per
// retry, capped, with a little jitter on top.
func (c *Client) backoff(n int) time.Duration {
	d := c.backoffBase * time.Duration(1<<uint(n-1))
	if d > c.backoffCap || d <= 0 {
		d = c.backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(c.backoffBase)/10 + 1))
	return d + jitter
}
