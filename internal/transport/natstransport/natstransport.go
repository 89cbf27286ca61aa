// internal/transport/natstransport/natstransport.go

// Package natstransport carries broadcast envelopes over core NATS subjects.
// Core NATS (no JetStream) is at-most-once with no replay, matching the
// transport contract the session layer assumes.
package natstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/transport"
)

// Transport opens channels backed by NATS subjects. Channel names contain a
// colon (room:{id}); NATS subjects use dots, so names are mapped through
// subjectFor.
type Transport struct {
	nc     *nats.Conn
	logger *logrus.Logger

	mu       sync.Mutex
	channels map[*channel]struct{}
}

// Connect dials the NATS server and wires its async error handler so that
// connection-level failures fan out to every open channel.
func Connect(url string, logger *logrus.Logger) (*Transport, error) {
	t := &Transport{logger: logger, channels: make(map[*channel]struct{})}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(0),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			t.fanoutError(err)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			t.fanoutError(fmt.Errorf("nats connection closed"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %q: %w", url, err)
	}
	t.nc = nc
	return t, nil
}

// Close tears down the underlying connection.
func (t *Transport) Close() {
	t.nc.Close()
}

func (t *Transport) fanoutError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	targets := make([]*channel, 0, len(t.channels))
	for ch := range t.channels {
		targets = append(targets, ch)
	}
	t.mu.Unlock()
	for _, ch := range targets {
		ch.reportError(err)
	}
}

// Subscribe opens a subject subscription for the named channel.
func (t *Transport) Subscribe(_ context.Context, name string, opts transport.SubscribeOptions) (transport.Channel, error) {
	ch := &channel{name: name, transport: t, opts: opts}
	sub, err := t.nc.Subscribe(subjectFor(name), func(m *nats.Msg) {
		var env protocol.Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			t.logger.WithField("channel", name).Warnf("dropping malformed envelope: %v", err)
			return
		}
		if env.SenderID == opts.PresenceKey {
			return // no self-delivery
		}
		if opts.OnMessage != nil {
			opts.OnMessage(env)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %q: %w", name, err)
	}
	ch.sub = sub
	t.mu.Lock()
	t.channels[ch] = struct{}{}
	t.mu.Unlock()
	return ch, nil
}

func subjectFor(name string) string {
	// room:{id} -> poolsync.room.{id}
	subject := make([]byte, 0, len(name)+9)
	subject = append(subject, "poolsync."...)
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			subject = append(subject, '.')
		} else {
			subject = append(subject, name[i])
		}
	}
	return string(subject)
}

type channel struct {
	name      string
	transport *Transport
	sub       *nats.Subscription
	opts      transport.SubscribeOptions
	closed    atomic.Bool
}

func (c *channel) Name() string { return c.name }

func (c *channel) reportError(err error) {
	if c.closed.Load() || c.opts.OnError == nil {
		return
	}
	c.opts.OnError(err)
}

func (c *channel) Publish(_ context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.transport.nc.Publish(subjectFor(c.name), data); err != nil {
		return fmt.Errorf("nats publish %q: %w", c.name, err)
	}
	return nil
}

func (c *channel) Unsubscribe(context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.mu.Lock()
	delete(c.transport.channels, c)
	c.transport.mu.Unlock()
	return c.sub.Unsubscribe()
}
