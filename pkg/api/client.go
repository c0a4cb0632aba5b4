// Package api is the REST client for the practice backend. Its methods have
// the shapes of query.Operation and query.PageOperation so screens can hand
// them straight to a Query or Paginator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "go-querycache"
	// maxErrorBody bounds how much of a failed response is kept in an HTTPError.
	maxErrorBody = 4096
)

// HTTPError captures an unexpected status code and the response body.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// Config holds the settings for a Client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token on every request when set.
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// userAgentRoundTripper adds a User-Agent header to every request.
type userAgentRoundTripper struct {
	wrapped   http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.userAgent)
	return rt.wrapped.RoundTrip(clone)
}

// Client calls the practice backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a Client. base may be nil, in which case a client with
// the default transport is used.
func NewClient(cfg Config, base *http.Client, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	hc := &http.Client{}
	if base != nil {
		*hc = *base
	}
	transport := hc.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	transport = &userAgentRoundTripper{wrapped: transport, userAgent: cfg.UserAgent}
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	hc.Transport = transport
	hc.Timeout = cfg.Timeout

	return &Client{
		baseURL: u,
		http:    hc,
		logger:  logger.With().Str("component", "APIClient").Str("base_url", u.Redacted()).Logger(),
	}, nil
}

// GetJSON issues a GET for path with the given query string and decodes the
// JSON response into out. Non-2xx responses come back as *HTTPError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Backend responded.")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// queryValues turns filter params into a query string. Keys are added in
// sorted order; nil values are skipped.
func queryValues(params fingerprint.Params) url.Values {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []string:
			values.Set(k, strings.Join(v, ","))
		default:
			values.Set(k, fmt.Sprint(v))
		}
	}
	return values
}
