package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/rs/zerolog"
)

// Operation is the network call a Query wraps. It must honour ctx: the
// context is cancelled when the consumer that started the call is closed.
type Operation[T any] func(ctx context.Context, params fingerprint.Params) (T, error)

// FetchState is what a consumer renders from.
type FetchState[T any] struct {
	Data          T
	HasData       bool
	Loading       bool
	Err           error
	LastFetchedAt time.Time
}

// QueryOptions tune a single Query. Zero values fall back to the Client defaults.
type QueryOptions struct {
	CacheTime    time.Duration
	DisableCache bool
	Debounce     time.Duration
}

// Query is one consumer of an operation invoked with fixed parameters.
// Close it when the consumer goes away; nothing mutates its state afterwards.
type Query[T any] struct {
	id     string
	client *Client
	op     Operation[T]
	params fingerprint.Params
	key    string
	opts   QueryOptions
	logger zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	debouncer *Debouncer
	closeOnce sync.Once

	// notifyMu serialises state changes with their subscriber notifications,
	// so Close can wait out a notification in progress.
	notifyMu sync.Mutex
	mu       sync.Mutex
	closed   bool
	state    FetchState[T]
	subs     map[string]func(FetchState[T])
}

// NewQuery creates a consumer of op. The consumer is closed when ctx ends or Close is called.
func NewQuery[T any](
	ctx context.Context,
	client *Client,
	name string,
	op Operation[T],
	params fingerprint.Params,
	opts QueryOptions,
) (*Query[T], error) {
	if client == nil || op == nil {
		return nil, fmt.Errorf("client and operation cannot be nil")
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = client.cfg.CacheTime
	}
	if opts.Debounce <= 0 {
		opts.Debounce = client.cfg.Debounce
	}

	id := uuid.NewString()
	qctx, cancel := context.WithCancel(ctx)
	q := &Query[T]{
		id:        id,
		client:    client,
		op:        op,
		params:    params,
		key:       fingerprint.Key(name, params),
		opts:      opts,
		logger:    client.logger.With().Str("component", "Query").Str("query_id", id).Str("operation", name).Logger(),
		ctx:       qctx,
		cancel:    cancel,
		debouncer: NewDebouncer(client.clock, opts.Debounce),
		subs:      make(map[string]func(FetchState[T])),
	}

	// Closing the parent context is the same as closing the consumer.
	context.AfterFunc(qctx, q.Close)
	return q, nil
}

// ID identifies this consumer in logs.
func (q *Query[T]) ID() string {
	return q.id
}

// Key returns the fingerprint this consumer caches and de-duplicates under.
func (q *Query[T]) Key() string {
	return q.key
}

// Done is closed once the consumer has been closed.
func (q *Query[T]) Done() <-chan struct{} {
	return q.ctx.Done()
}

// State returns a snapshot of the current fetch state.
func (q *Query[T]) State() FetchState[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Subscribe registers fn to receive every state change. fn runs synchronously
// on the goroutine that changed the state and must not call Close.
func (q *Query[T]) Subscribe(fn func(FetchState[T])) (unsubscribe func()) {
	id := uuid.NewString()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return func() {}
	}
	q.subs[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

// Execute runs one fetch synchronously and returns the resulting state.
// Unless force is set, a fresh cached response is served without a network
// call; a call already in flight for the same key is joined rather than
// repeated.
func (q *Query[T]) Execute(force bool) FetchState[T] {
	if q.key == "" {
		q.logger.Debug().Msg("No fingerprint for query, skipping fetch.")
		return q.State()
	}
	if q.isClosed() || q.ctx.Err() != nil {
		return q.State()
	}

	useCache := !q.opts.DisableCache
	res := fetchThrough(q.ctx, q.client, fetchSpec{
		key:       q.key,
		force:     force,
		useCache:  useCache,
		cacheTime: q.opts.CacheTime,
	}, func(ctx context.Context) (T, error) {
		return q.op(ctx, q.params)
	}, func() {
		q.update(func(s *FetchState[T]) {
			s.Loading = true
			s.Err = nil
		})
	})

	switch {
	case res.fromCache:
		q.update(func(s *FetchState[T]) {
			s.Data = res.value
			s.HasData = true
			s.Loading = false
			s.Err = nil
		})
	case res.err == nil:
		now := q.client.clock.Now()
		applied := q.update(func(s *FetchState[T]) {
			s.Data = res.value
			s.HasData = true
			s.LastFetchedAt = now
			s.Loading = false
		})
		if applied && useCache {
			q.client.writeThrough(q.ctx, q.key, res.value)
		}
	case isCancellation(q.ctx, res.err):
		q.logger.Debug().Msg("Fetch cancelled.")
		q.update(func(s *FetchState[T]) {
			s.Loading = false
		})
	default:
		q.logger.Warn().Err(res.err).Msg("Fetch failed.")
		q.update(func(s *FetchState[T]) {
			s.Err = res.err
			s.Loading = false
		})
	}
	return q.State()
}

// Fetch runs a fetch in the background, debounced when the query has a quiet period.
func (q *Query[T]) Fetch(force bool) {
	if q.opts.Debounce > 0 {
		q.debouncer.Schedule(func() { q.Execute(force) })
		return
	}
	q.Refetch(force)
}

// Refetch runs a fetch in the background without debouncing.
func (q *Query[T]) Refetch(force bool) {
	if q.isClosed() {
		return
	}
	go q.Execute(force)
}

// ClearCache drops this query's cached response.
func (q *Query[T]) ClearCache() {
	if q.key == "" {
		return
	}
	_ = q.client.cache.Delete(context.WithoutCancel(q.ctx), q.key)
}

// Close tears the consumer down: the in-flight call it started is cancelled,
// debounced work is dropped and no state change happens after Close returns.
func (q *Query[T]) Close() {
	q.closeOnce.Do(func() {
		q.cancel()
		q.debouncer.Stop()

		q.notifyMu.Lock()
		q.mu.Lock()
		q.closed = true
		q.subs = nil
		q.mu.Unlock()
		q.notifyMu.Unlock()
		q.logger.Debug().Msg("Query closed.")
	})
}

func (q *Query[T]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// update applies mutate and notifies subscribers. It reports false, changing
// nothing, once the query is closed.
func (q *Query[T]) update(mutate func(*FetchState[T])) bool {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	mutate(&q.state)
	snapshot := q.state
	subs := make([]func(FetchState[T]), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return true
}
