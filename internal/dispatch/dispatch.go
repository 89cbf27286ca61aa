// internal/dispatch/dispatch.go

// Package dispatch is the in-process fan-out from raw transport messages to
// registered application handlers. It never talks to the transport itself.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler consumes one event payload. Handlers run in registration order;
// a panicking handler is isolated and does not stop the rest.
type Handler func(payload json.RawMessage)

type entry struct {
	id int
	fn Handler
}

// Dispatcher routes named events to handler lists.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]entry
	logger   *logrus.Logger
}

// New returns an empty dispatcher.
func New(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]entry),
		logger:   logger,
	}
}

// On registers a handler for event and returns a function that removes just
// that handler.
func (d *Dispatcher) On(event string, fn Handler) (remove func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], entry{id: id, fn: fn})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		live := d.handlers[event][:0]
		for _, e := range d.handlers[event] {
			if e.id != id {
				live = append(live, e)
			}
		}
		d.handlers[event] = live
	}
}

// Off removes every handler registered for event.
func (d *Dispatcher) Off(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// Clear removes all handlers for all events. Used by session teardown.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]entry)
	d.mu.Unlock()
}

// Emit invokes every handler registered for event, in registration order.
// One bad payload must not break dispatch of subsequent events, so each
// handler runs behind a recover.
func (d *Dispatcher) Emit(event string, payload json.RawMessage) {
	d.mu.Lock()
	entries := append([]entry(nil), d.handlers[event]...)
	d.mu.Unlock()
	for _, e := range entries {
		d.invoke(event, e.fn, payload)
	}
}

func (d *Dispatcher) invoke(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("event", event).Errorf("event handler panicked: %v", r)
		}
	}()
	fn(payload)
}
