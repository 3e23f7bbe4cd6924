package slack

import (
	"context"
	"testing"
	"time"

	"github.com/andycufari/portero/internal/channels"
)

func TestAdapterType(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-test", AppToken: "xapp-test"})
	if a.Type() != channels.ChannelSlack {
		t.Fatalf("expected slack type, got %s", a.Type())
	}
}

func TestSendRequiresChannelID(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-test", AppToken: "xapp-test"})
	err := a.Send(context.Background(), &channels.Message{Content: "hi"})
	if err == nil {
		t.Fatal("expected error for missing channel id")
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-test", AppToken: "xapp-test"})
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("expected no error stopping an unstarted adapter, got %v", err)
	}
}

func TestStripMentions(t *testing.T) {
	got := stripMentions("<@U123> approve the request")
	if got != "approve the request" {
		t.Fatalf("expected mention stripped, got %q", got)
	}
}

func TestStripMentionsNoMention(t *testing.T) {
	got := stripMentions("approve the request")
	if got != "approve the request" {
		t.Fatalf("expected text unchanged, got %q", got)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts, err := parseSlackTimestamp("1700000000.000100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Unix() != 1700000000 {
		t.Fatalf("expected unix seconds 1700000000, got %d", ts.Unix())
	}
}

func TestParseSlackTimestampInvalid(t *testing.T) {
	if _, err := parseSlackTimestamp("not-a-timestamp"); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}

func TestHandleMessageQueuesInbound(t *testing.T) {
	a := NewAdapter(Config{BotToken: "xoxb-test", AppToken: "xapp-test"})
	a.ctx = context.Background()
	a.handleMessage("C1", "U1", "1700000000.000100", "<@BOT1> approve")

	select {
	case msg := <-a.messages:
		if msg.ChannelID != "C1" || msg.Content != "approve" || msg.Direction != channels.DirectionInbound {
			t.Fatalf("unexpected converted message: %+v", msg)
		}
		if msg.CreatedAt.IsZero() {
			t.Fatal("expected non-zero CreatedAt")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a queued inbound message")
	}
}
