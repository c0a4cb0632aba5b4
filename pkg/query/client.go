// Package query is the data-access layer dashboard screens use to call the
// backend: cached, de-duplicated fetches with optional debouncing, polling
// and page accumulation on top.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/illmade-knight/go-querycache/pkg/inflight"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultCacheTime is the freshness window used when none is configured.
const DefaultCacheTime = 5 * time.Minute

// ClientConfig holds the defaults applied to every consumer built on a Client.
type ClientConfig struct {
	// CacheTime is the default freshness window for cached responses.
	CacheTime time.Duration
	// Debounce is the default quiet period for Query.Fetch. Zero disables debouncing.
	Debounce time.Duration
}

// Client is the process-wide state shared by all consumers: the response
// cache and the in-flight registry. Build one at start-up and pass it to
// every Query and Paginator.
type Client struct {
	cfg      ClientConfig
	cache    *cache.ResponseCache
	registry *inflight.Registry
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClock replaces the wall clock, e.g. with a clockwork.FakeClock in tests.
func WithClock(clk clockwork.Clock) ClientOption {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewClient creates a Client over store.
func NewClient(cfg ClientConfig, store cache.Store, logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	if cfg.CacheTime <= 0 {
		cfg.CacheTime = DefaultCacheTime
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}

	c := &Client{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: logger.With().Str("component", "QueryClient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	rc, err := cache.NewResponseCache(store, c.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	c.cache = rc
	c.registry = inflight.NewRegistry(logger)

	c.logger.Info().Dur("cache_time", cfg.CacheTime).Dur("debounce", cfg.Debounce).Msg("Query client created.")
	return c, nil
}

// Cache returns the shared response cache.
func (c *Client) Cache() *cache.ResponseCache {
	return c.cache
}

// Registry returns the shared in-flight registry.
func (c *Client) Registry() *inflight.Registry {
	return c.registry
}

// Clock returns the client's time source.
func (c *Client) Clock() clockwork.Clock {
	return c.clock
}

// InvalidateMatching drops every cached response whose key contains pattern.
func (c *Client) InvalidateMatching(ctx context.Context, pattern string) (int, error) {
	return c.cache.DeleteMatching(ctx, pattern)
}

// ClearCache drops every cached response.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// Close releases the cache backend.
func (c *Client) Close() error {
	c.logger.Info().Msg("Closing query client...")
	return c.cache.Close()
}
