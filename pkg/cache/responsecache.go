package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ResponseCache is the process-wide key -> (value, storedAt) map consulted by
// the fetch orchestrator. It never expires entries itself; callers decide
// freshness with IsStale. Growth is bounded only by the chosen Store.
type ResponseCache struct {
	store  Store
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewResponseCache wraps store. A nil clock defaults to the wall clock.
func NewResponseCache(store Store, clk clockwork.Clock, logger zerolog.Logger) (*ResponseCache, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &ResponseCache{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "ResponseCache").Logger(),
	}, nil
}

// Get returns the entry under key. Backend failures are logged and reported as a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) (*Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Cache backend read failed, treating as miss.")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &entry, true
}

// Set JSON-encodes value and stores it under key stamped with the current time.
func (c *ResponseCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	entry := Entry{Value: raw, StoredAt: c.clock.Now()}
	if err := c.store.Set(ctx, key, entry); err != nil {
		return fmt.Errorf("failed to store cache value for %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Msg("Stored response in cache.")
	return nil
}

// IsStale reports whether entry may no longer be served without a refetch:
// true when entry is nil or older than window.
func (c *ResponseCache) IsStale(entry *Entry, window time.Duration) bool {
	if entry == nil {
		return true
	}
	return c.clock.Now().Sub(entry.StoredAt) > window
}

// Delete removes the entry under key.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to delete cache entry.")
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeleteMatching removes every entry whose key contains pattern.
func (c *ResponseCache) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	n, err := c.store.DeleteMatching(ctx, pattern)
	if err != nil {
		c.logger.Error().Err(err).Str("pattern", pattern).Msg("Failed to delete cache entries by pattern.")
		return n, fmt.Errorf("failed to delete entries matching %q: %w", pattern, err)
	}
	c.logger.Debug().Str("pattern", pattern).Int("removed", n).Msg("Deleted cache entries by pattern.")
	return n, nil
}

// Clear removes every entry.
func (c *ResponseCache) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.logger.Info().Msg("Response cache cleared.")
	return nil
}

// Close closes the underlying store.
func (c *ResponseCache) Close() error {
	return c.store.Close()
}
