// Package rest provides a small JSON-over-HTTP client for the upstream data APIs.
//
// Every request waits on a token-bucket limiter before it is sent, so a single
// Client shared by all connectors of one upstream host keeps the service
// inside that host's rate limits. Responses are decoded with go-json.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// defaultTimeout bounds a single request including reading the body.
	defaultTimeout = 30 * time.Second

	// defaultRequestsPerSecond is the sustained request rate per client.
	defaultRequestsPerSecond = 5

	// defaultBurst is the number of requests allowed back to back.
	defaultBurst = 5

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 512

	defaultUserAgent = "hivetax/1.0"
)

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d from %s: %s", ErrUnexpectedStatus, e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Config defines settings for the client.
type Config struct {
	// BaseURL is prepended to every request path.
	// Required: This field must be provided and be an absolute URL.
	BaseURL string

	// Timeout is the per-request timeout of the underlying http.Client.
	Timeout time.Duration

	// RequestsPerSecond is the sustained outbound request rate.
	RequestsPerSecond float64

	// Burst is the maximum number of requests sent without waiting.
	Burst int

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the client built from Timeout. Used by tests.
	HTTPClient *http.Client
}

// Client sends rate-limited JSON requests to one upstream host.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient validates cfg, applies defaults and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}

	// Apply defaults for optional fields
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent:  cfg.UserAgent,
	}, nil
}

// GetJSON sends a GET to path with query and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.resolve(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, out)
}

// PostJSON sends body encoded as JSON to path and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	endpoint := c.resolve(path, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(req *http.Request, out any) error {
	logger := log.With().
		Str("component", "rest").
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Logger()

	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		return fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	logger.Debug().
		Int("statusCode", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Warn().Int("statusCode", resp.StatusCode).Msg("unexpected status")
		return &StatusError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.Error().Err(err).Msg("invalid response JSON")
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Host, err)
	}

	return nil
}
