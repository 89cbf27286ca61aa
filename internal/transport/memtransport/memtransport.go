// internal/transport/memtransport/memtransport.go

// Package memtransport is an in-process implementation of the transport
// fabric. It backs local/AI play and every session-layer test: delivery is
// synchronous, at most once, and messages can be dropped on demand to
// simulate a lossy broadcast network.
package memtransport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/transport"
)

// Bus fans envelopes out between subscriptions sharing a channel name.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription

	// Drop, when non-nil, is consulted before each delivery attempt;
	// returning true discards the envelope, simulating a lost broadcast.
	Drop func(channel string, env protocol.Envelope) bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe attaches a new subscription to the named channel.
func (b *Bus) Subscribe(_ context.Context, name string, opts transport.SubscribeOptions) (transport.Channel, error) {
	sub := &subscription{bus: b, name: name, opts: opts}
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()
	return sub, nil
}

// InjectError delivers a transport failure to every live subscription on the
// named channel. Tests use this to drive the reconnection supervisor.
func (b *Bus) InjectError(name string, err error) {
	b.mu.Lock()
	targets := append([]*subscription(nil), b.subs[name]...)
	b.mu.Unlock()
	for _, t := range targets {
		if t.closed.Load() || t.opts.OnError == nil {
			continue
		}
		t.opts.OnError(err)
	}
}

func (b *Bus) remove(name string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subs[name][:0]
	for _, s := range b.subs[name] {
		if s != sub {
			live = append(live, s)
		}
	}
	b.subs[name] = live
}

type subscription struct {
	bus    *Bus
	name   string
	opts   transport.SubscribeOptions
	closed atomic.Bool
}

func (s *subscription) Name() string { return s.name }

// Publish delivers env synchronously to every other live subscription on the
// channel, honoring self-delivery suppression and the bus drop hook.
func (s *subscription) Publish(_ context.Context, env protocol.Envelope) error {
	if s.closed.Load() {
		return errors.New("memtransport: publish on unsubscribed channel")
	}
	if drop := s.bus.Drop; drop != nil && drop(s.name, env) {
		return nil
	}
	s.bus.mu.Lock()
	targets := append([]*subscription(nil), s.bus.subs[s.name]...)
	s.bus.mu.Unlock()
	for _, t := range targets {
		if t == s || t.closed.Load() || t.opts.PresenceKey == env.SenderID {
			continue
		}
		if t.opts.OnMessage != nil {
			t.opts.OnMessage(env)
		}
	}
	return nil
}

func (s *subscription) Unsubscribe(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.bus.remove(s.name, s)
	return nil
}
