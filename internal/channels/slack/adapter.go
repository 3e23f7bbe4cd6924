// Package slack adapts a Slack Socket Mode bot connection to the Approval
// Channel's Transport contract (internal/approval.Transport): start/stop
// the connection, send a rendered message to a channel, and emit inbound
// text messages from the paired admin.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/andycufari/portero/internal/channels"
)

// Config holds the Slack bot credentials used to build an Adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
}

// Adapter implements internal/approval.Transport over a Slack Socket Mode
// connection.
type Adapter struct {
	cfg          Config
	client       *slack.Client
	socketClient *socketmode.Client
	messages     chan *channels.Message
	logger       *slog.Logger

	mu        sync.Mutex
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	botUserID string
}

// NewAdapter creates a new Slack adapter.
func NewAdapter(cfg Config) *Adapter {
	client := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	socketClient := socketmode.New(client)

	return &Adapter{
		cfg:          cfg,
		client:       client,
		socketClient: socketClient,
		messages:     make(chan *channels.Message, 100),
		logger:       slog.Default().With("adapter", "slack"),
	}
}

// Type implements internal/channels.Adapter.
func (a *Adapter) Type() channels.ChannelType {
	return channels.ChannelSlack
}

// Start authenticates and begins listening for messages via Socket Mode.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("slack: adapter already started")
	}

	authResp, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: authenticate: %w", err)
	}
	a.botUserID = authResp.UserID

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.handleEvents()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socketClient.Run(); err != nil {
			a.logger.Error("socket mode run error", "error", err)
		}
	}()

	a.connected = true
	a.logger.Info("slack adapter started", "bot_user_id", authResp.UserID)
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
	close(a.messages)

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
	a.logger.Info("slack adapter stopped")
	return nil
}

// Send posts a message to the given Slack channel.
func (a *Adapter) Send(ctx context.Context, msg *channels.Message) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("slack: message has no channel id")
	}
	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, slack.MsgOptionText(msg.Content, false)); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

// Messages returns the channel of inbound messages from Slack.
func (a *Adapter) Messages() <-chan *channels.Message {
	return a.messages
}

func (a *Adapter) handleEvents() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socketClient.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.logger.Warn("could not type-assert events API payload")
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.handleMessage(ev.Channel, ev.User, ev.TimeStamp, ev.Text)
	case *slackevents.MessageEvent:
		if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
			return
		}
		a.handleMessage(ev.Channel, ev.User, ev.TimeStamp, ev.Text)
	}
}

func (a *Adapter) handleMessage(channelID, userID, timestamp, text string) {
	text = stripMentions(text)
	createdAt := time.Now()
	if ts, err := parseSlackTimestamp(timestamp); err == nil {
		createdAt = ts
	}

	msg := &channels.Message{
		ID:        fmt.Sprintf("%s:%s", channelID, timestamp),
		Channel:   channels.ChannelSlack,
		ChannelID: channelID,
		Direction: channels.DirectionInbound,
		Content:   text,
		CreatedAt: createdAt,
	}

	select {
	case a.messages <- msg:
	case <-a.ctx.Done():
	default:
		a.logger.Warn("dropping inbound slack message, buffer full", "channel_id", channelID)
	}
}

// stripMentions removes Slack's <@USERID> mention markup from message text.
func stripMentions(text string) string {
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// parseSlackTimestamp converts a Slack timestamp string ("1234567890.123456")
// to time.Time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, usec*1000), nil
}
