// Package resilient provides the helpdesk's client-side reliability helpers:
// an HTTP client that retries transient failures with jittered exponential
// backoff, and a WebSocket stream that keeps topic subscriptions alive across
// reconnects.
package resilient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 20

// Client issues HTTP requests with a per-attempt timeout and retries 5xx, 429,
// timeouts and transport errors.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     uint64
	header     http.Header
	log        *zap.Logger
}

type Option func(*Client)

// WithTimeout bounds each attempt, not the whole call. Bound the call with ctx.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithBackoff sets the first retry delay and the cap on later ones.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max >= base && max > 0 {
			c.maxDelay = max
		}
	}
}

func WithJitterPercent(p uint64) Option {
	return func(c *Client) { c.jitter = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{},
		timeout:    10 * time.Second,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
		jitter:     20,
		header:     http.Header{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends req, retrying transient failures. Any non-2xx final status is
// returned as an *Error of KindHTTP.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	var (
		resp     *Response
		attempts int
	)
	// hint carries the server's Retry-After into the next backoff step.
	var hint time.Duration
	base := c.backoff()
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := base.Next()
		if stop {
			return 0, true
		}
		if hint > d {
			d = hint
		}
		hint = 0
		return d, false
	})
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		r, err := c.attempt(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		var e *Error
		if errors.As(err, &e) && e.Retryable() && ctx.Err() == nil {
			hint = min(e.RetryAfter, c.maxDelay)
			c.log.Debug("retrying request",
				zap.String("method", req.Method),
				zap.String("url", req.URL),
				zap.Int("attempt", attempts),
				zap.String("kind", string(e.Kind)),
				zap.Int("status", e.StatusCode))
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return resp, nil
	}

	var e *Error
	if errors.As(err, &e) {
		e.Attempts = attempts
		return nil, e
	}
	kind := KindNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return nil, &Error{Kind: kind, Method: req.Method, URL: req.URL, Attempts: attempts, Err: err}
}

// DoJSON encodes in (when non-nil) as the body and decodes a 2xx body into out
// (when non-nil).
func (c *Client) DoJSON(ctx context.Context, req Request, in, out any) error {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}

	res, err := c.http.Do(hreq)
	if err != nil {
		return nil, c.transportError(actx, req, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(actx, req, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		e := &Error{Kind: KindHTTP, Method: req.Method, URL: req.URL, StatusCode: res.StatusCode, Body: data}
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable {
			e.RetryAfter = parseRetryAfter(res.Header.Get("Retry-After"), time.Now())
		}
		return nil, e
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func (c *Client) transportError(actx context.Context, req Request, err error) *Error {
	kind := KindNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Method: req.Method, URL: req.URL, Err: err}
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.baseDelay)
	if c.jitter > 0 {
		b = retry.WithJitterPercent(c.jitter, b)
	}
	b = retry.WithCappedDuration(c.maxDelay, b)
	return retry.WithMaxRetries(c.maxRetries, b)
}
