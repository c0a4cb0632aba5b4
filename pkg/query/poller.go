package query

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// PollStatus is the state of a Poller.
type PollStatus int

const (
	// PollIdle means no timer is running.
	PollIdle PollStatus = iota
	// PollActive means the query is force-refetched every interval.
	PollActive
)

func (s PollStatus) String() string {
	switch s {
	case PollActive:
		return "active"
	default:
		return "idle"
	}
}

// Poller force-refetches a Query on a fixed interval while it is enabled and
// the query holds data. Polling bypasses the cache: its purpose is to observe
// server-side change.
type Poller[T any] struct {
	query    *Query[T]
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	enabled bool
	hasData bool
	closed  bool
	active  bool
	gen     uint64
	timer   clockwork.Timer

	unsubscribe func()
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewPoller attaches a poller to q. It goes idle for good once q is closed.
func NewPoller[T any](q *Query[T], interval time.Duration, enabled bool) (*Poller[T], error) {
	if q == nil {
		return nil, fmt.Errorf("query cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0")
	}

	p := &Poller[T]{
		query:    q,
		interval: interval,
		logger:   q.logger.With().Str("component", "Poller").Dur("interval", interval).Logger(),
		enabled:  enabled,
		stop:     make(chan struct{}),
	}
	p.unsubscribe = q.Subscribe(p.onState)

	p.mu.Lock()
	p.hasData = q.State().HasData
	p.reconcileLocked()
	p.mu.Unlock()

	go func() {
		select {
		case <-q.Done():
			p.Close()
		case <-p.stop:
		}
	}()
	return p, nil
}

// SetEnabled turns polling on or off.
func (p *Poller[T]) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	p.reconcileLocked()
}

// Status reports whether the poller is idle or active.
func (p *Poller[T]) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return PollActive
	}
	return PollIdle
}

// Close stops polling permanently.
func (p *Poller[T]) Close() {
	p.mu.Lock()
	p.closed = true
	p.reconcileLocked()
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		p.unsubscribe()
		close(p.stop)
	})
}

func (p *Poller[T]) onState(s FetchState[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasData = s.HasData
	p.reconcileLocked()
}

// reconcileLocked moves between idle and active. Must be called with mu held.
func (p *Poller[T]) reconcileLocked() {
	shouldRun := p.enabled && p.hasData && !p.closed
	switch {
	case shouldRun && !p.active:
		p.active = true
		p.logger.Debug().Msg("Polling started.")
		p.scheduleLocked()
	case !shouldRun && p.active:
		p.active = false
		p.gen++
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.logger.Debug().Msg("Polling stopped.")
	}
}

func (p *Poller[T]) scheduleLocked() {
	gen := p.gen
	p.timer = p.query.client.clock.AfterFunc(p.interval, func() { p.tick(gen) })
}

func (p *Poller[T]) tick(gen uint64) {
	p.mu.Lock()
	if !p.active || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()

	p.query.Execute(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && gen == p.gen && p.timer == nil {
		p.scheduleLocked()
	}
}
