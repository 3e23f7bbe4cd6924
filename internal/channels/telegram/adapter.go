// Package telegram adapts a Telegram bot long-polling connection to the
// Approval Channel's Transport contract (internal/approval.Transport):
// start/stop the connection, send a rendered message to a chat, and emit
// inbound text messages from the paired admin.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/andycufari/portero/internal/channels"
)

// Config holds the Telegram bot credentials and logger used to build an
// Adapter.
type Config struct {
	// Token is the bot token issued by @BotFather (required).
	Token string

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements internal/approval.Transport over a Telegram
// long-polling bot connection.
type Adapter struct {
	config   Config
	bot      *bot.Bot
	messages chan *channels.Message
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAdapter creates a Telegram transport from the given configuration.
func NewAdapter(config Config) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		messages: make(chan *channels.Message, 100),
		logger:   config.Logger.With("adapter", "telegram"),
	}, nil
}

// Type implements internal/channels.Adapter.
func (a *Adapter) Type() channels.ChannelType {
	return channels.ChannelTelegram
}

// Start begins long-polling Telegram for updates.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("telegram: adapter already started")
	}

	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		b.Start(runCtx)
	}()

	a.connected = true
	a.logger.Info("telegram adapter started")
	return nil
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("stop timeout, forcing shutdown")
	}
	a.connected = false
	close(a.messages)
	a.logger.Info("telegram adapter stopped")
	return nil
}

// Send delivers a text message to the given Telegram chat.
func (a *Adapter) Send(ctx context.Context, msg *channels.Message) error {
	a.mu.Lock()
	b := a.bot
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return fmt.Errorf("telegram: adapter not connected")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("telegram: message has no channel id")
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChannelID, err)
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	}); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Messages returns the channel of inbound messages from Telegram.
func (a *Adapter) Messages() <-chan *channels.Message {
	return a.messages
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if update.Message.From.IsBot {
		return
	}

	msg := &channels.Message{
		ID:        strconv.Itoa(update.Message.ID),
		Channel:   channels.ChannelTelegram,
		ChannelID: strconv.FormatInt(update.Message.Chat.ID, 10),
		Direction: channels.DirectionInbound,
		Content:   update.Message.Text,
		CreatedAt: time.Unix(int64(update.Message.Date), 0),
	}

	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("dropping inbound telegram message, buffer full", "chat_id", update.Message.Chat.ID)
	}
}
