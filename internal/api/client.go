// Package api provides the typed client for a BirdNET-compatible detection
// server's v2 REST surface: detection listing and review, settings domains,
// audio clip URLs, and the live notification stream.
//
// All request paths live under /api/v2. The client authenticates with an
// optional Bearer token, attaches a per-request correlation id, and routes
// every call through a [resilience.Breaker] so that an unreachable server
// fails fast instead of piling up timeouts.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perchkit/perch/internal/observe"
	"github.com/perchkit/perch/internal/resilience"
)

// apiPrefix is the fixed base path of the server's v2 REST surface.
const apiPrefix = "/api/v2"

// defaultTimeout bounds a single request when the caller's context carries no
// deadline of its own.
const defaultTimeout = 15 * time.Second

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	// Status is the HTTP status code.
	Status int

	// Body is the response body, truncated for logging.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("api: server returned %d: %s", e.Status, e.Body)
}

// Client talks to one detection server. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	httpc   *http.Client
	breaker *resilience.Breaker
	metrics *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Client)

// WithToken sets the Bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client. Use this to inject an
// instrumented transport or a test server's client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics enables stream connection metrics (active streams, reconnect
// attempts). Request latency is recorded by the transport, not here.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client for the server at baseURL (scheme + host, optionally a
// path prefix; /api/v2 is appended per request).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base URL %q must use http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		httpc:   &http.Client{Timeout: defaultTimeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "api"}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the server base URL the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// endpoint joins the base URL, the /api/v2 prefix, and path.
func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + apiPrefix + path
}

// do performs one JSON round trip through the circuit breaker. body is
// marshalled when non-nil; the response is decoded into out when out is
// non-nil and the response has content.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.breaker.Do(func() error {
		var reqBody io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("api: marshal %s %s body: %w", method, path, err)
			}
			reqBody = bytes.NewReader(raw)
		}

		u := c.endpoint(path)
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return fmt.Errorf("api: build %s %s: %w", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("api: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Status: resp.StatusCode, Body: readBodySnippet(resp.Body)}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s %s response: %w", method, path, err)
		}
		return nil
	})
}

// readBodySnippet reads at most 512 bytes of the body for error reporting.
func readBodySnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(raw))
}

// Healthy probes the server's health endpoint. Suitable as a readiness
// checker.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}
