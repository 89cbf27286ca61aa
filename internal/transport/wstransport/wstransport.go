// internal/transport/wstransport/wstransport.go

// Package wstransport carries broadcast envelopes over a websocket relay.
// One websocket is dialed per channel; the relay fans every text frame out
// to the channel's other subscribers.
package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/transport"
)

const writeTimeout = 5 * time.Second

// Transport dials relay websockets, one per subscribed channel.
type Transport struct {
	relayURL string
	logger   *logrus.Logger
}

// New builds a transport rooted at relayURL (e.g. wss://relay.example.com).
func New(relayURL string, logger *logrus.Logger) *Transport {
	return &Transport{relayURL: relayURL, logger: logger}
}

// Subscribe dials {relayURL}/channels/{name}?presence={key} and starts the
// read loop. The presence query identifies this subscriber to the relay.
func (t *Transport) Subscribe(ctx context.Context, name string, opts transport.SubscribeOptions) (transport.Channel, error) {
	dialURL := fmt.Sprintf("%s/channels/%s?presence=%s",
		t.relayURL, url.PathEscape(name), url.QueryEscape(opts.PresenceKey))
	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		Subprotocols: []string{"poolsync"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay channel %q: %w", name, err)
	}
	ch := &channel{
		name:   name,
		conn:   conn,
		opts:   opts,
		logger: t.logger,
	}
	go ch.readLoop()
	return ch, nil
}

type channel struct {
	name   string
	conn   *websocket.Conn
	opts   transport.SubscribeOptions
	logger *logrus.Logger
	closed atomic.Bool
}

func (c *channel) Name() string { return c.name }

func (c *channel) readLoop() {
	ctx := context.Background()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if !c.closed.Load() && c.opts.OnError != nil {
				c.opts.OnError(fmt.Errorf("relay channel %q read: %w", c.name, err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.WithField("channel", c.name).Warnf("dropping malformed envelope: %v", err)
			continue
		}
		// The relay already excludes the sender, but a misconfigured relay
		// must not break the no-self-delivery contract.
		if env.SenderID == c.opts.PresenceKey {
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}
	}
}

func (c *channel) Publish(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay publish %q: %w", c.name, err)
	}
	return nil
}

func (c *channel) Unsubscribe(context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "leaving channel")
}
