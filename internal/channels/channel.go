package channels

import (
	"context"
)

// Adapter is the minimal contract for a channel connector.
type Adapter interface {
	// Type returns the channel type (telegram, discord, slack, etc.).
	Type() ChannelType
}

// LifecycleAdapter represents adapters that can start and stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter represents adapters that can send messages.
type OutboundAdapter interface {
	Send(ctx context.Context, msg *Message) error
}

// InboundAdapter represents adapters that emit inbound messages.
type InboundAdapter interface {
	Messages() <-chan *Message
}
