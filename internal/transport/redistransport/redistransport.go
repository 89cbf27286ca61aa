// internal/transport/redistransport/redistransport.go

// Package redistransport carries broadcast envelopes over Redis pub/sub.
// Redis gives exactly the semantics the session layer is designed for:
// fire-and-forget fan-out with no delivery guarantee to absent subscribers.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/transport"
)

// Transport opens channels backed by Redis pub/sub topics.
type Transport struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// New wraps an already-connected Redis client.
func New(rdb *redis.Client, logger *logrus.Logger) *Transport {
	return &Transport{rdb: rdb, logger: logger}
}

// Subscribe opens a pub/sub topic and starts the read loop. The initial
// subscription handshake is confirmed before returning so that a dead Redis
// surfaces as a join error, not a later async one.
func (t *Transport) Subscribe(ctx context.Context, name string, opts transport.SubscribeOptions) (transport.Channel, error) {
	ps := t.rdb.Subscribe(ctx, name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", name, err)
	}
	ch := &channel{
		name:   name,
		rdb:    t.rdb,
		ps:     ps,
		opts:   opts,
		logger: t.logger,
	}
	go ch.readLoop()
	return ch, nil
}

type channel struct {
	name   string
	rdb    *redis.Client
	ps     *redis.PubSub
	opts   transport.SubscribeOptions
	logger *logrus.Logger
	closed atomic.Bool
}

func (c *channel) Name() string { return c.name }

func (c *channel) readLoop() {
	for msg := range c.ps.Channel() {
		var env protocol.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			c.logger.WithField("channel", c.name).Warnf("dropping malformed envelope: %v", err)
			continue
		}
		if env.SenderID == c.opts.PresenceKey {
			continue // no self-delivery
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}
	}
	// The message stream only terminates when the PubSub is closed. If we
	// did not close it ourselves, the connection died underneath us.
	if !c.closed.Load() && c.opts.OnError != nil {
		c.opts.OnError(fmt.Errorf("redis subscription %q terminated", c.name))
	}
}

func (c *channel) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.name, data).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", c.name, err)
	}
	return nil
}

func (c *channel) Unsubscribe(context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ps.Close()
}
