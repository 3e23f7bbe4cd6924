// Package discord adapts a Discord bot connection to the Approval Channel's
// Transport contract (internal/approval.Transport): start/stop the
// connection, send a rendered message to a channel, and emit inbound text
// messages from the paired admin.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/andycufari/portero/internal/channels"
)

// Config holds the Discord bot credentials and logger used to build an
// Adapter.
type Config struct {
	// Token is the bot token from the Discord Developer Portal (required).
	Token string

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("discord: token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements internal/approval.Transport over a Discord bot
// connection.
type Adapter struct {
	config   Config
	session  *discordgo.Session
	messages chan *channels.Message
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
}

// NewAdapter creates a Discord transport from the given configuration.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		messages: make(chan *channels.Message, 100),
		logger:   config.Logger.With("adapter", "discord"),
	}, nil
}

// Type implements internal/channels.Adapter.
func (a *Adapter) Type() channels.ChannelType {
	return channels.ChannelDiscord
}

// Start opens the Discord session and begins listening for messages.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("discord: adapter already started")
	}

	session, err := discordgo.New("Bot " + a.config.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(a.handleMessageCreate)

	reconnector := channels.Reconnector{Config: channels.DefaultReconnectConfig(), Logger: a.logger}
	if err := reconnector.Run(ctx, func(context.Context) error { return session.Open() }); err != nil {
		return fmt.Errorf("discord: open connection: %w", err)
	}

	_, a.cancel = context.WithCancel(ctx)
	a.session = session
	a.connected = true
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the Discord session.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	a.connected = false
	close(a.messages)
	a.logger.Info("discord adapter stopped")
	return nil
}

// Send posts a message to the given Discord channel.
func (a *Adapter) Send(ctx context.Context, msg *channels.Message) error {
	a.mu.Lock()
	session := a.session
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return fmt.Errorf("discord: adapter not connected")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("discord: message has no channel id")
	}
	if _, err := session.ChannelMessageSend(msg.ChannelID, msg.Content); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Messages returns the channel of inbound messages from Discord.
func (a *Adapter) Messages() <-chan *channels.Message {
	return a.messages
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State != nil && s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if m.Author != nil && m.Author.Bot {
		return
	}

	msg := &channels.Message{
		ID:        m.ID,
		Channel:   channels.ChannelDiscord,
		ChannelID: m.ChannelID,
		Direction: channels.DirectionInbound,
		Content:   m.Content,
		CreatedAt: time.Now(),
	}

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("dropping inbound discord message, buffer full", "channel_id", m.ChannelID)
	}
}
