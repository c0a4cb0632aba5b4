package query_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-querycache/pkg/fingerprint"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedPatients serves pages of generated patient IDs. sizes[page] is the
// number of items that page returns; missing pages are empty.
// A page with a gate blocks until the gate is closed or ctx ends, and
// announces itself on started first.
type pagedPatients struct {
	calls   atomic.Int32
	started chan int

	mu    sync.Mutex
	sizes map[int]int
	fail  map[int]error
	gates map[int]chan struct{}
}

func (p *pagedPatients) gate(page int) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gates == nil {
		p.gates = make(map[int]chan struct{})
	}
	if p.started == nil {
		p.started = make(chan int, 16)
	}
	g := make(chan struct{})
	p.gates[page] = g
	return g
}

func (p *pagedPatients) Call(ctx context.Context, _ fingerprint.Params, page, pageSize int) ([]string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	g := p.gates[page]
	p.mu.Unlock()
	if g != nil {
		p.started <- page
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[page]; err != nil {
		return nil, err
	}
	n := p.sizes[page]
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf("p-%d-%d", page, i))
	}
	return items, nil
}

func newPatientPaginator(t *testing.T, src *pagedPatients, pageSize int) (*query.Paginator[string], *query.Client) {
	t.Helper()
	client, _, _ := newTestClient(t, query.ClientConfig{})
	p, err := query.NewPaginator(context.Background(), client, "getPatients", src.Call, fingerprint.Params{"status": "active"}, query.PaginatorOptions{PageSize: pageSize})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, client
}

func TestPaginator_AccumulatesPagesInOrder(t *testing.T) {
	// Arrange
	src := &pagedPatients{sizes: map[int]int{1: 20, 2: 20, 3: 5}}
	p, _ := newPatientPaginator(t, src, 20)

	// Act 1
	state := p.Load()

	// Assert 1
	require.NoError(t, state.Err)
	assert.Equal(t, 1, state.Page)
	assert.Len(t, state.Items, 20)
	assert.True(t, state.HasMore)

	// Act 2
	require.True(t, p.LoadMore())
	state = p.State()

	// Assert 2
	assert.Equal(t, 2, state.Page)
	require.Len(t, state.Items, 40)
	assert.Equal(t, "p-1-0", state.Items[0])
	assert.Equal(t, "p-2-0", state.Items[20])
	assert.True(t, state.HasMore)

	// Act 3: a short page ends the sequence.
	require.True(t, p.LoadMore())
	state = p.State()

	// Assert 3
	assert.Len(t, state.Items, 45)
	assert.False(t, state.HasMore)
	assert.False(t, state.Loading)
	assert.False(t, p.LoadMore(), "no further loads once HasMore is false")
	assert.Equal(t, 3, p.State().Page)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestPaginator_ReloadingInitialPageReplacesItems(t *testing.T) {
	src := &pagedPatients{sizes: map[int]int{1: 20, 2: 20}}
	p, _ := newPatientPaginator(t, src, 20)
	p.Load()
	require.True(t, p.LoadMore())
	require.Len(t, p.State().Items, 40)

	p.Reset()
	state := p.Load()

	assert.Equal(t, 1, state.Page)
	assert.Len(t, state.Items, 20)
	assert.Equal(t, int32(3), src.calls.Load(), "reset drops the initial page's cached response")
}

func TestPaginator_ResetIsIdempotent(t *testing.T) {
	// Arrange
	ctx := context.Background()
	src := &pagedPatients{sizes: map[int]int{1: 20, 2: 3}}
	p, client := newPatientPaginator(t, src, 20)
	p.Load()
	p.LoadMore()
	_, cached := client.Cache().Get(ctx, p.PageKey(1))
	require.True(t, cached)

	// Act
	p.Reset()
	once := p.State()
	p.Reset()
	twice := p.State()

	// Assert
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, twice.Page)
	assert.Empty(t, twice.Items)
	assert.True(t, twice.HasMore)
	_, cached = client.Cache().Get(ctx, p.PageKey(1))
	assert.False(t, cached)
	_, cached = client.Cache().Get(ctx, p.PageKey(2))
	assert.True(t, cached, "only the initial page is evicted")
}

func TestPaginator_PageKeysAreDistinct(t *testing.T) {
	src := &pagedPatients{}
	p, _ := newPatientPaginator(t, src, 20)

	assert.NotEqual(t, p.PageKey(1), p.PageKey(2))
	assert.Equal(t, fingerprint.Key("getPatients", fingerprint.Params{"status": "active", "page": 1, "pageSize": 20}), p.PageKey(1))
}

func TestPaginator_ServesFreshPagesFromCache(t *testing.T) {
	src := &pagedPatients{sizes: map[int]int{1: 20}}
	client, _, _ := newTestClient(t, query.ClientConfig{})
	params := fingerprint.Params{"status": "active"}

	first, err := query.NewPaginator(context.Background(), client, "getPatients", src.Call, params, query.PaginatorOptions{})
	require.NoError(t, err)
	t.Cleanup(first.Close)
	second, err := query.NewPaginator(context.Background(), client, "getPatients", src.Call, params, query.PaginatorOptions{})
	require.NoError(t, err)
	t.Cleanup(second.Close)

	first.Load()
	state := second.Load()

	assert.Len(t, state.Items, 20)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestPaginator_ErrorKeepsAccumulatedItems(t *testing.T) {
	boom := errors.New("502 bad gateway")
	src := &pagedPatients{sizes: map[int]int{1: 20}, fail: map[int]error{2: boom}}
	p, _ := newPatientPaginator(t, src, 20)
	p.Load()

	require.True(t, p.LoadMore())
	state := p.State()

	assert.ErrorIs(t, state.Err, boom)
	assert.Len(t, state.Items, 20)
	assert.False(t, state.Loading)
	assert.True(t, state.HasMore, "a failed page leaves HasMore as it was")
}

func TestPaginator_LoadRetriesFailedPage(t *testing.T) {
	// Arrange: page 2 fails once.
	boom := errors.New("502 bad gateway")
	src := &pagedPatients{sizes: map[int]int{1: 20, 2: 5}, fail: map[int]error{2: boom}}
	p, _ := newPatientPaginator(t, src, 20)
	p.Load()
	require.True(t, p.LoadMore())
	require.ErrorIs(t, p.State().Err, boom)
	src.mu.Lock()
	delete(src.fail, 2)
	src.mu.Unlock()

	// Act
	state := p.Load()

	// Assert: the same page is fetched again, not page 3.
	require.NoError(t, state.Err)
	assert.Equal(t, 2, state.Page)
	assert.Len(t, state.Items, 25)
	assert.Equal(t, "p-2-0", state.Items[20])
	assert.False(t, state.HasMore)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestPaginator_ClosedIgnoresLoads(t *testing.T) {
	src := &pagedPatients{sizes: map[int]int{1: 20}}
	p, _ := newPatientPaginator(t, src, 20)
	p.Close()

	state := p.Load()

	assert.Empty(t, state.Items)
	assert.False(t, p.LoadMore())
	assert.NotPanics(t, p.Reset)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestPaginator_PageSizeIsClamped(t *testing.T) {
	src := &pagedPatients{}

	p, _ := newPatientPaginator(t, src, 0)
	assert.Equal(t, 20, p.State().PageSize)

	p, _ = newPatientPaginator(t, src, 500)
	assert.Equal(t, 100, p.State().PageSize)
}

func TestClampPageSize(t *testing.T) {
	testCases := []struct {
		name  string
		value int
		cfg   query.PageSizeConfig
		want  int
	}{
		{name: "default when zero", value: 0, cfg: query.DefaultPageSizes, want: 20},
		{name: "default when negative", value: -3, cfg: query.DefaultPageSizes, want: 20},
		{name: "within limits", value: 50, cfg: query.DefaultPageSizes, want: 50},
		{name: "capped at max", value: 101, cfg: query.DefaultPageSizes, want: 100},
		{name: "no max", value: 1000, cfg: query.PageSizeConfig{Default: 10}, want: 1000},
		{name: "never below one", value: 0, cfg: query.PageSizeConfig{}, want: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, query.ClampPageSize(tc.value, tc.cfg))
		})
	}
}

func TestNewPaginator_Validation(t *testing.T) {
	client, _, _ := newTestClient(t, query.ClientConfig{})

	_, err := query.NewPaginator(context.Background(), nil, "getPatients", (&pagedPatients{}).Call, nil, query.PaginatorOptions{})
	assert.Error(t, err)
	_, err = query.NewPaginator[string](context.Background(), client, "getPatients", nil, nil, query.PaginatorOptions{})
	assert.Error(t, err)
}

func TestPaginator_ExactlyFullLastPageReportsMoreUntilEmptyPage(t *testing.T) {
	// Arrange: 40 patients, two full pages and nothing after.
	src := &pagedPatients{sizes: map[int]int{1: 20, 2: 20}}
	p, _ := newPatientPaginator(t, src, 20)
	p.Load()

	// Act 1
	require.True(t, p.LoadMore())

	// Assert 1: the count heuristic cannot tell this was the last page.
	state := p.State()
	assert.Len(t, state.Items, 40)
	assert.True(t, state.HasMore)

	// Act 2
	require.True(t, p.LoadMore())

	// Assert 2: the empty page ends the sequence without changing the items.
	state = p.State()
	assert.Equal(t, 3, state.Page)
	assert.Len(t, state.Items, 40)
	assert.False(t, state.HasMore)
	assert.False(t, p.LoadMore())
}

func TestPaginator_ResetDiscardsPageInFlight(t *testing.T) {
	// Arrange: page 2 blocks until released.
	src := &pagedPatients{sizes: map[int]int{1: 2, 2: 2}}
	release := src.gate(2)
	p, _ := newPatientPaginator(t, src, 2)
	p.Load()

	loaded := make(chan bool, 1)
	go func() { loaded <- p.LoadMore() }()
	require.Equal(t, 2, <-src.started)

	// Act
	p.Reset()
	afterReset := p.State()
	moreDuringFlight := p.LoadMore()
	close(release)
	require.True(t, <-loaded)

	// Assert
	assert.Equal(t, 1, afterReset.Page)
	assert.Empty(t, afterReset.Items)
	assert.True(t, afterReset.Loading, "the page in flight still counts as loading")
	assert.False(t, moreDuringFlight, "LoadMore waits for the page in flight")

	state := p.State()
	assert.Equal(t, 1, state.Page)
	assert.Empty(t, state.Items, "a page from before the reset is not accumulated")
	assert.False(t, state.Loading)
	assert.True(t, state.HasMore)

	// The sequence restarts from the initial page.
	state = p.Load()
	assert.Equal(t, []string{"p-1-0", "p-1-1"}, state.Items)
}

func TestPaginator_CloseDuringLoadLeavesStateUntouched(t *testing.T) {
	// Arrange
	src := &pagedPatients{sizes: map[int]int{1: 20}}
	src.gate(1)
	p, client := newPatientPaginator(t, src, 20)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Load()
	}()
	require.Equal(t, 1, <-src.started)
	require.Eventually(t, func() bool { return p.State().Loading }, time.Second, 5*time.Millisecond)
	before := p.State()

	// Act
	assert.NotPanics(t, p.Close)

	// Assert
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Load did not return after Close")
	}
	require.Eventually(t, func() bool { return !client.Registry().HasPending(p.PageKey(1)) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, p.State())
	assert.NoError(t, p.State().Err)
	_, cached := client.Cache().Get(context.Background(), p.PageKey(1))
	assert.False(t, cached)
}
