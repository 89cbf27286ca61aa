// internal/transport/transport.go

// Package transport defines the broadcast fabric the session layer runs on.
//
// Implementations provide fire-and-forget pub/sub channels with no delivery
// or ordering guarantees. Two guarantees implementations MUST provide:
//
//  1. No self-delivery: an envelope whose SenderID equals the subscriber's
//     presence key is dropped before OnMessage.
//  2. OnError fires at most once per subscription for unrecoverable
//     transport failures; after Unsubscribe neither callback fires again.
package transport

import (
	"context"

	"github.com/cuelab/poolsync/internal/protocol"
)

// Handler receives decoded envelopes from a subscription.
type Handler func(protocol.Envelope)

// ErrorHandler receives unrecoverable transport failures for a subscription.
type ErrorHandler func(error)

// SubscribeOptions configures one channel subscription.
type SubscribeOptions struct {
	// PresenceKey identifies this subscriber on the channel, and is the key
	// self-delivery suppression matches against SenderID.
	PresenceKey string
	OnMessage   Handler
	OnError     ErrorHandler
}

// Channel is one live subscription that can also publish.
type Channel interface {
	Name() string
	Publish(ctx context.Context, env protocol.Envelope) error
	// Unsubscribe tears the subscription down. Best effort; implementations
	// must make it safe to call more than once.
	Unsubscribe(ctx context.Context) error
}

// Transport opens named broadcast channels.
type Transport interface {
	Subscribe(ctx context.Context, name string, opts SubscribeOptions) (Channel, error)
}
