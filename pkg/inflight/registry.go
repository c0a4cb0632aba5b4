// Package inflight de-duplicates concurrent requests: for any key there is at
// most one outstanding call, and every caller asking for that key while it is
// running is handed the same Call.
package inflight

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Call is the handle for one outstanding operation.
type Call struct {
	done   chan struct{}
	settle sync.Once
	val    any
	err    error
}

// NewCall creates an unsettled Call.
func NewCall() *Call {
	return &Call{done: make(chan struct{})}
}

// Settle records the outcome and releases every waiter. Only the first call has any effect.
func (c *Call) Settle(val any, err error) {
	c.settle.Do(func() {
		c.val, c.err = val, err
		close(c.done)
	})
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (c *Call) Result() (any, error) {
	return c.val, c.err
}

// Wait blocks until the call settles or ctx ends. Abandoning the wait does not
// stop the call.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry tracks pending calls by key.
type Registry struct {
	group  singleflight.Group
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*Call
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "InflightRegistry").Logger(),
		pending: make(map[string]*Call),
	}
}

// HasPending reports whether a call is outstanding for key.
func (r *Registry) HasPending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// GetPending returns the outstanding call for key, if any.
func (r *Registry) GetPending(key string) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[key]
	return c, ok
}

// SetPending records c as the outstanding call for key, replacing any previous one.
func (r *Registry) SetPending(key string, c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = c
}

// ClearPending forgets the outstanding call for key. A later Join starts a new call.
func (r *Registry) ClearPending(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
	r.group.Forget(key)
}

// Len returns the number of outstanding calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Join returns the outstanding call for key, or starts fn as that call.
// shared is true when the caller attached to a call someone else started.
// The key is removed from the registry when fn returns, whatever the
// outcome, and before the call's Done channel is closed.
func (r *Registry) Join(key string, fn func() (any, error)) (call *Call, shared bool) {
	r.mu.Lock()
	if c, ok := r.pending[key]; ok {
		r.mu.Unlock()
		r.logger.Debug().Str("key", key).Msg("Joining in-flight call.")
		return c, true
	}
	c := NewCall()
	r.pending[key] = c
	r.mu.Unlock()

	ch := r.group.DoChan(key, fn)
	go func() {
		res := <-ch
		r.release(key, c)
		c.Settle(res.Val, res.Err)
	}()
	return c, false
}

// release removes key only if it still refers to c.
func (r *Registry) release(key string, c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.pending[key]; ok && current == c {
		delete(r.pending, key)
	}
}
