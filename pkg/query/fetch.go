package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// fetchSpec describes one orchestrated fetch.
type fetchSpec struct {
	key       string
	force     bool
	useCache  bool
	cacheTime time.Duration
}

// fetchResult is what an orchestrated fetch produced.
type fetchResult[T any] struct {
	value     T
	fromCache bool
	err       error
}

// fetchThrough serves key from a fresh cache entry, or joins the in-flight
// call for key, or starts run as that call. onWait is invoked once the
// caller is about to wait on the network. Writing the result back to the
// cache is left to the caller, which knows whether it is still open.
func fetchThrough[T any](
	ctx context.Context,
	c *Client,
	spec fetchSpec,
	run func(ctx context.Context) (T, error),
	onWait func(),
) fetchResult[T] {
	if !spec.force && spec.useCache {
		if entry, ok := c.cache.Get(ctx, spec.key); ok && !c.cache.IsStale(entry, spec.cacheTime) {
			var value T
			err := json.Unmarshal(entry.Value, &value)
			if err == nil {
				c.logger.Debug().Str("key", spec.key).Msg("Serving fresh cached response.")
				return fetchResult[T]{value: value, fromCache: true}
			}
			c.logger.Warn().Err(err).Str("key", spec.key).Msg("Cached response does not decode, fetching instead.")
		}
	}

	call, shared := c.registry.Join(spec.key, func() (any, error) {
		return run(ctx)
	})
	if onWait != nil {
		onWait()
	}
	c.logger.Debug().Str("key", spec.key).Bool("shared", shared).Msg("Waiting on network call.")

	v, err := call.Wait(ctx)
	if err != nil {
		return fetchResult[T]{err: err}
	}
	if v == nil {
		var zero T
		return fetchResult[T]{value: zero}
	}
	typed, ok := v.(T)
	if !ok {
		var want T
		return fetchResult[T]{err: fmt.Errorf("in-flight result for %s has type %T, want %T", spec.key, v, want)}
	}
	return fetchResult[T]{value: typed}
}

// isCancellation reports whether err came from a consumer being closed.
func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// writeThrough stores value under key, detached from the consumer's
// cancellation so a close racing the write cannot abort it halfway.
func (c *Client) writeThrough(ctx context.Context, key string, value any) {
	if err := c.cache.Set(context.WithoutCancel(ctx), key, value); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to write response to cache.")
	}
}
