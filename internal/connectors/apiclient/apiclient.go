// Package apiclient is the shared JSON-over-HTTP plumbing for the quote,
// bridge and price connectors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status      int
	URL         string
	Body        string
	RateLimited bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.URL, e.Body)
}

// Retryable reports whether another attempt may succeed.
func (e *HTTPError) Retryable() bool {
	return e.RateLimited || e.Status >= 500
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	return &HTTPError{
		Status:      resp.StatusCode,
		URL:         resp.Request.URL.String(),
		Body:        truncate(msg, 512),
		RateLimited: resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "throttled"),
	}
}

type Client struct {
	http    *http.Client
	log     *zap.Logger
	retries int
	backoff time.Duration
	limiter *rate.Limiter
}

// New builds a client. timeout bounds each attempt, retries counts extra
// attempts after a rate limit or 5xx.
func New(timeout time.Duration, retries int, log *zap.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		log:     log,
		retries: retries,
		backoff: 300 * time.Millisecond,
	}
}

// WithBackoff overrides the base delay between retries.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.backoff = d
	return c
}

// WithRateLimit caps outgoing requests, retries included. perSecond <= 0
// disables the limit.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = nil
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// GetJSON fetches url and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, url string) (T, error) {
	var v T
	err := c.do(ctx, http.MethodGet, url, nil, &v)
	return v, err
}

// PostJSON posts body as JSON and decodes the reply into T.
func PostJSON[T any](ctx context.Context, c *Client, url string, body any) (T, error) {
	var v T
	payload, err := json.Marshal(body)
	if err != nil {
		return v, fmt.Errorf("encode body: %w", err)
	}
	err = c.do(ctx, http.MethodPost, url, payload, &v)
	return v, err
}

// do retries only GET: a POST may have been accepted upstream before the
// error reached us.
func (c *Client) do(ctx context.Context, method, url string, payload []byte, v any) error {
	retries := c.retries
	if method != http.MethodGet {
		retries = 0
	}
	var lastErr error
	for a := 0; a <= retries; a++ {
		if a > 0 {
			backoff := c.backoff * time.Duration(a)
			c.log.Debug("http retry",
				zap.String("url", url), zap.Int("attempt", a), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.once(ctx, method, url, payload, v)
		if lastErr == nil {
			return nil
		}
		var he *HTTPError
		if !errors.As(lastErr, &he) || !he.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit %s: %w", url, err)
		}
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return newHTTPError(resp, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
