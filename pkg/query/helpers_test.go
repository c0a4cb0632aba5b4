package query_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/cache"
	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testCacheTime = 5 * time.Minute

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

// newTestClient builds a Client on an in-memory store and a fake clock.
func newTestClient(t *testing.T, cfg query.ClientConfig) (*query.Client, *clockwork.FakeClock, *cache.InMemoryStore) {
	t.Helper()
	if cfg.CacheTime == 0 {
		cfg.CacheTime = testCacheTime
	}
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	store := cache.NewInMemoryStore()
	client, err := query.NewClient(cfg, store, zerolog.Nop(), query.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, clk, store
}

// mockOperation is a test double for a network call. It counts invocations
// and, when gate is set, blocks until the gate is closed or ctx ends.
type mockOperation[T any] struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}

	mu     sync.Mutex
	result T
	err    error
}

func newMockOperation[T any](result T) *mockOperation[T] {
	return &mockOperation[T]{result: result, started: make(chan struct{}, 16)}
}

func (m *mockOperation[T]) respond(result T, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result, m.err = result, err
}

func (m *mockOperation[T]) Call(ctx context.Context, _ fingerprint.Params) (T, error) {
	m.calls.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

func (m *mockOperation[T]) Calls() int {
	return int(m.calls.Load())
}

// waitForTimers blocks until n timers are registered on clk.
func waitForTimers(t *testing.T, clk *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(ctx, n))
}
