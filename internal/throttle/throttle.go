// internal/throttle/throttle.go

// Package throttle enforces a minimum interval between outbound sends of a
// single event type. Broadcast transports bill by events per second, so
// high-frequency telemetry (ball positions, aim lines) is thinned before it
// reaches the wire.
//
// Semantics are last-value-wins within a window: a call arriving while the
// window is open supersedes any earlier pending call, and the most recent
// snapshot is flushed when the window elapses. Intermediate frames are
// dropped, never queued; safe because every snapshot carries absolute
// state.
package throttle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SendFunc delivers one payload to the transport.
type SendFunc func(payload interface{})

// Throttle gates one event type.
type Throttle struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	send     SendFunc

	lastSent time.Time
	pending  interface{}
	hasPend  bool
	timer    clockwork.Timer
	stopped  bool
}

// New builds a throttle with the given minimum send interval.
func New(clock clockwork.Clock, interval time.Duration, send SendFunc) *Throttle {
	return &Throttle{clock: clock, interval: interval, send: send}
}

// Offer submits a payload. If the window is closed the payload is sent
// immediately; otherwise it replaces any pending payload and is flushed
// when the window elapses.
func (t *Throttle) Offer(payload interface{}) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	if t.timer == nil && (t.lastSent.IsZero() || now.Sub(t.lastSent) >= t.interval) {
		t.lastSent = now
		t.mu.Unlock()
		t.send(payload)
		return
	}
	t.pending = payload
	t.hasPend = true
	if t.timer == nil {
		wait := t.interval - now.Sub(t.lastSent)
		if wait < 0 {
			wait = 0
		}
		t.timer = t.clock.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttle) flush() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	payload := t.pending
	send := t.hasPend
	t.pending = nil
	t.hasPend = false
	t.timer = nil
	if send {
		t.lastSent = t.clock.Now()
	}
	t.mu.Unlock()
	if send {
		t.send(payload)
	}
}

// Stop discards any pending payload and prevents further sends.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	t.hasPend = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
