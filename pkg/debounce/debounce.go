// Package debounce provides a cancellable scheduled task with at most one
// outstanding timer. Each Schedule replaces the pending task instead of
// stacking a new one, so only the most recent request ever runs.
package debounce

import (
	"sync"
	"time"
)

// Timer is the handle of a scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func wallAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs the latest scheduled task once its delay elapses.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	after   AfterFunc
	timer   Timer
	pending func()
	gen     uint64
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithAfterFunc overrides the timer source for deterministic testing.
func WithAfterFunc(af AfterFunc) Option {
	return func(d *Debouncer) {
		if af != nil {
			d.after = af
		}
	}
}

// New creates a Debouncer. A zero delay runs tasks synchronously in Schedule.
func New(delay time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{
		delay: delay,
		after: wallAfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Delay returns the configured delay.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Schedule replaces any pending task with fn.
func (d *Debouncer) Schedule(fn func()) {
	if fn == nil {
		return
	}
	if d.delay <= 0 {
		d.Cancel()
		fn()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = d.after(d.delay, func() { d.fire(gen) })
}

// fire runs the pending task if no newer Schedule or Cancel happened since
// the timer for gen was armed.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending task. It reports whether a task was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	had := d.pending != nil
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.timer = nil
	d.pending = nil
	return had
}

// Flush runs the pending task immediately, if any.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.timer = nil
	d.pending = nil
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a task is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
