package engine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Throttle delivers at most one value per interval, always the most recent
// one (trailing edge). The first Call in an idle period arms a timer; later
// calls only replace the pending value. When the timer fires the pending
// value is handed to fn on the timer goroutine, without any lock held.
type Throttle[T any] struct {
	clock    clock.Clock
	interval time.Duration
	fn       func(T)

	mu      sync.Mutex
	timer   *clock.Timer
	pending T
	armed   bool
	seq     uint64
}

// NewThrottle creates a throttle delivering to fn.
func NewThrottle[T any](clk clock.Clock, interval time.Duration, fn func(T)) *Throttle[T] {
	return &Throttle[T]{clock: clk, interval: interval, fn: fn}
}

// Call stores v as the pending value and arms the timer if idle.
func (t *Throttle[T]) Call(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = v
	if t.armed {
		return
	}
	t.armed = true
	t.seq++
	seq := t.seq
	t.timer = t.clock.AfterFunc(t.interval, func() { t.fire(seq) })
}

// Cancel discards the pending value.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		t.take()
	}
}

func (t *Throttle[T]) fire(seq uint64) {
	t.mu.Lock()
	if !t.armed || seq != t.seq {
		t.mu.Unlock()
		return
	}
	v := t.take()
	t.mu.Unlock()

	t.fn(v)
}

// take disarms and returns the pending value. Requires t.mu.
func (t *Throttle[T]) take() T {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.armed = false
	t.seq++
	return v
}
