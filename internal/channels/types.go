package channels

import "time"

// ChannelType names a messaging platform the Approval Channel can speak
// over.
type ChannelType string

const (
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
)

// Direction distinguishes a Message sent to the admin from one received
// from them.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is the unified message shape across all channel adapters: an
// approval request, an activity digest, or an admin command/reply. It
// carries only what the Approval Channel (internal/approval) actually
// renders and parses — platform-specific concepts like attachments,
// threads, or rich blocks live in the adapter that needs them, not here.
type Message struct {
	ID        string      `json:"id"`
	Channel   ChannelType `json:"channel"`
	ChannelID string      `json:"channel_id"` // platform-specific chat id, used as the send target
	Direction Direction   `json:"direction"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
