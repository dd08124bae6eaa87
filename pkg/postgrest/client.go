// Package postgrest is a small client for PostgREST-compatible table APIs:
// filtered selects, counts, inserts, updates, deletes and RPC calls.
package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

// Client talks to one PostgREST endpoint. It is safe for concurrent use.
type Client struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as both the apikey header and a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key == "" {
			return
		}
		c.headers.Set("apikey", key)
		c.headers.Set("Authorization", "Bearer "+key)
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry retries idempotent reads (GET, HEAD) up to n times on transport
// errors and 502/503/504. Writes are never retried.
func WithRetry(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: http.Header{},
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// BaseURL returns the endpoint the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is the error body PostgREST returns for failed requests.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("postgrest %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("postgrest %d: %s", e.Status, msg)
}

// SQLState returns the PostgreSQL error code when the failure came from the
// database, or the PostgREST (PGRST...) code otherwise.
func (e *APIError) SQLState() string { return e.Code }

// request is one call against the API.
type request struct {
	method  string
	path    string
	query   url.Values
	headers http.Header
	body    any
}

func (c *Client) do(ctx context.Context, req request) (*httputil.Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.path, "/")
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	cfg := httputil.DefaultRequestConfig(req.method, target)
	cfg.Client = c.httpClient
	cfg.Logger = c.logger
	cfg.Timeout = c.timeout
	cfg.MaxRetries = c.retries
	cfg.RetryEnabled = c.retries > 0 && (req.method == http.MethodGet || req.method == http.MethodHead)
	cfg.Headers = c.headers.Clone()
	for key, values := range req.headers {
		cfg.Headers[key] = values
	}
	if cfg.Headers.Get("Accept") == "" {
		cfg.Headers.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := httputil.Request(ctx, cfg, req.body)
	c.logger.Debug("postgrest request",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Duration("latency", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) {
			return resp, decodeAPIError(statusErr)
		}
		return resp, err
	}
	return resp, nil
}

func decodeAPIError(statusErr *httputil.StatusError) *APIError {
	apiErr := &APIError{Status: statusErr.StatusCode}
	if err := json.Unmarshal(statusErr.Body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(statusErr.Body))
	}
	apiErr.Status = statusErr.StatusCode
	return apiErr
}

// RPC calls a stored function exposed at /rpc/<fn> and returns the raw body.
// A 204 or empty body yields nil.
func (c *Client) RPC(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "rpc/" + fn,
		body:   args,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, nil
	}
	return json.RawMessage(resp.Body), nil
}

// Ping checks that the endpoint answers at its root.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, request{method: http.MethodGet, path: "/"})
	return err
}
