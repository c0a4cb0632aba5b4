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

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// DefaultPageSizes are the limits applied by NewPaginator.
var DefaultPageSizes = PageSizeConfig{Default: 20, Max: 100}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// PageOperation fetches one page of items.
type PageOperation[T any] func(ctx context.Context, params fingerprint.Params, page, pageSize int) ([]T, error)

// PaginatorOptions tune a Paginator. Zero values take defaults.
type PaginatorOptions struct {
	InitialPage  int
	PageSize     int
	CacheTime    time.Duration
	DisableCache bool
}

// PaginationState is the accumulated view over the pages loaded so far.
type PaginationState[T any] struct {
	Page     int
	PageSize int
	// HasMore is true while the last page came back full. A final page that is
	// exactly PageSize long still reports true; the next load returns nothing.
	HasMore       bool
	Items         []T
	Loading       bool
	Err           error
	LastFetchedAt time.Time
}

// Paginator loads successive pages of an operation and accumulates them in order.
type Paginator[T any] struct {
	id          string
	client      *Client
	name        string
	op          PageOperation[T]
	params      fingerprint.Params
	initialPage int
	pageSize    int
	cacheTime   time.Duration
	useCache    bool
	logger      zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	state  PaginationState[T]
	// loaded is the last page whose items are in state.Items; zero when none.
	loaded int
	// gen is bumped by Reset; loads started under an older gen are discarded.
	gen uint64
	// pending counts loads in flight, across generations.
	pending int
}

// NewPaginator creates a paginating consumer of op.
func NewPaginator[T any](
	ctx context.Context,
	client *Client,
	name string,
	op PageOperation[T],
	params fingerprint.Params,
	opts PaginatorOptions,
) (*Paginator[T], error) {
	if client == nil || op == nil {
		return nil, fmt.Errorf("client and page operation cannot be nil")
	}
	if opts.InitialPage <= 0 {
		opts.InitialPage = 1
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = client.cfg.CacheTime
	}
	pageSize := ClampPageSize(opts.PageSize, DefaultPageSizes)

	id := uuid.NewString()
	pctx, cancel := context.WithCancel(ctx)
	p := &Paginator[T]{
		id:          id,
		client:      client,
		name:        name,
		op:          op,
		params:      params,
		initialPage: opts.InitialPage,
		pageSize:    pageSize,
		cacheTime:   opts.CacheTime,
		useCache:    !opts.DisableCache,
		logger:      client.logger.With().Str("component", "Paginator").Str("query_id", id).Str("operation", name).Logger(),
		ctx:         pctx,
		cancel:      cancel,
	}
	p.state = p.initialState()
	context.AfterFunc(pctx, p.Close)
	return p, nil
}

// ID identifies this consumer in logs.
func (p *Paginator[T]) ID() string {
	return p.id
}

// State returns a snapshot of the pagination state.
func (p *Paginator[T]) State() PaginationState[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// PageKey returns the fingerprint of page.
func (p *Paginator[T]) PageKey(page int) string {
	return fingerprint.Key(p.name, p.params.With(map[string]any{
		"page":     page,
		"pageSize": p.pageSize,
	}))
}

// Load fetches the current page and folds it into the accumulated items.
// The initial page replaces the items; later pages are appended. After a
// failed page, Load retries that same page; LoadMore would move past it.
func (p *Paginator[T]) Load() PaginationState[T] {
	p.mu.Lock()
	if p.closed {
		defer p.mu.Unlock()
		return p.snapshotLocked()
	}
	if p.name == "" {
		defer p.mu.Unlock()
		p.logger.Debug().Msg("No fingerprint for paginator, skipping fetch.")
		return p.snapshotLocked()
	}
	p.pending++
	page, gen := p.state.Page, p.gen
	p.mu.Unlock()

	return p.load(page, gen)
}

// LoadMore advances to the next page and loads it. It does nothing, and
// reports false, when there are no more pages or a load is in progress.
// A page that fails leaves Page advanced; call Load to retry it.
func (p *Paginator[T]) LoadMore() bool {
	p.mu.Lock()
	if p.closed || p.name == "" || !p.state.HasMore || p.pending > 0 {
		p.mu.Unlock()
		return false
	}
	p.state.Page++
	p.state.Loading = true
	p.pending++
	page, gen := p.state.Page, p.gen
	p.mu.Unlock()

	p.load(page, gen)
	return true
}

// load fetches page for generation gen. The caller has already counted it in pending.
func (p *Paginator[T]) load(page int, gen uint64) PaginationState[T] {
	key := p.PageKey(page)
	res := fetchThrough(p.ctx, p.client, fetchSpec{
		key:       key,
		useCache:  p.useCache,
		cacheTime: p.cacheTime,
	}, func(ctx context.Context) ([]T, error) {
		return p.op(ctx, p.params, page, p.pageSize)
	}, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.closed && gen == p.gen {
			p.state.Loading = true
			p.state.Err = nil
		}
	})

	p.mu.Lock()
	if p.closed {
		defer p.mu.Unlock()
		return p.snapshotLocked()
	}
	p.pending--
	p.state.Loading = p.pending > 0
	if gen != p.gen {
		// Reset while this page was in flight; its items belong to the previous sequence.
		p.logger.Debug().Int("page", page).Msg("Discarding page loaded before reset.")
		defer p.mu.Unlock()
		return p.snapshotLocked()
	}

	writeBack := false
	switch {
	case res.err == nil:
		p.accumulateLocked(page, res.value)
		if !res.fromCache {
			p.state.LastFetchedAt = p.client.clock.Now()
			writeBack = p.useCache
		}
	case isCancellation(p.ctx, res.err):
		p.logger.Debug().Int("page", page).Msg("Page fetch cancelled.")
	default:
		p.logger.Warn().Err(res.err).Int("page", page).Msg("Page fetch failed.")
		p.state.Err = res.err
	}
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	if writeBack {
		p.client.writeThrough(p.ctx, key, res.value)
	}
	return snapshot
}

// Reset returns to the initial page with no items and drops the initial
// page's cached response. Pages still in flight are discarded when they land.
func (p *Paginator[T]) Reset() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.state = p.initialState()
	p.state.Loading = p.pending > 0
	p.loaded = 0
	p.mu.Unlock()

	if p.name != "" {
		_ = p.client.cache.Delete(context.WithoutCancel(p.ctx), p.PageKey(p.initialPage))
	}
}

// Close tears the consumer down; nothing mutates its state afterwards.
func (p *Paginator[T]) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})
}

func (p *Paginator[T]) initialState() PaginationState[T] {
	return PaginationState[T]{
		Page:     p.initialPage,
		PageSize: p.pageSize,
		HasMore:  true,
		Items:    []T{},
	}
}

// accumulateLocked folds a page of items into the state. Reloading a page
// that is already accumulated only refreshes HasMore. Must be called with mu held.
func (p *Paginator[T]) accumulateLocked(page int, items []T) {
	switch {
	case page == p.initialPage:
		p.state.Items = append([]T{}, items...)
		p.loaded = page
	case page > p.loaded:
		p.state.Items = append(p.state.Items, items...)
		p.loaded = page
	}
	p.state.HasMore = len(items) == p.pageSize
}

func (p *Paginator[T]) snapshotLocked() PaginationState[T] {
	s := p.state
	s.Items = append([]T{}, p.state.Items...)
	return s
}
