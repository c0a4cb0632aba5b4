package query

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer delays work until no new request has arrived for a quiet period;
// only the last request of a burst runs.
type Debouncer struct {
	clock clockwork.Clock
	wait  time.Duration

	mu      sync.Mutex
	timer   clockwork.Timer
	seq     uint64
	stopped bool
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(clk clockwork.Clock, wait time.Duration) *Debouncer {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Debouncer{clock: clk, wait: wait}
}

// Schedule replaces any pending work with fn, to run once the quiet period elapses.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(d.wait, func() {
		d.mu.Lock()
		// A timer that lost the race with Stop must not run superseded work.
		if d.stopped || seq != d.seq {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// CancelPending drops scheduled work that has not started yet.
func (d *Debouncer) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Stop cancels pending work and ignores every later Schedule.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

// Pending reports whether work is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}
