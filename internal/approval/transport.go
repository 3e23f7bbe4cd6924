// Package approval implements the Approval Channel (spec §4.8): a
// transport-agnostic core that pairs with a single admin principal, renders
// human-readable approval requests, ingests decisions, batches execution
// notices into an activity digest, and dispatches admin commands. One or
// more internal/channels/* adapters satisfy the Transport interface below.
//
// Grounded on the reference internal/channels registry/adapter split
// (channel.go, registry.go, per-adapter packages) and on the chat-driven
// pairing flow in internal/gateway/access_policy.go
// (handlePairingRequest/buildPairingPrompt) — adapted from that flow's
// request/approve/deny command style to this gateway's pair/approve/deny
// vocabulary.
package approval

import (
	"context"

	"github.com/andycufari/portero/internal/channels"
)

// Transport is the minimal contract the Approval Channel needs from a
// channel adapter: start/stop its connection, send a rendered message, and
// emit inbound messages. This is internal/channels.LifecycleAdapter +
// OutboundAdapter + InboundAdapter + Adapter — every FullAdapter in
// internal/channels/* satisfies it structurally.
type Transport interface {
	Type() channels.ChannelType
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg *channels.Message) error
	Messages() <-chan *channels.Message
}
