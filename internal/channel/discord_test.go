package channel

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/config"
)

type mockDiscordSession struct {
	opened  bool
	closed  bool
	openErr error
	handler func(m *discordgo.MessageCreate)
	sent    map[string][]string
	dmErr   error
}

func newMockDiscord() *mockDiscordSession {
	return &mockDiscordSession{sent: make(map[string][]string)}
}

func (m *mockDiscordSession) Open() error  { m.opened = true; return m.openErr }
func (m *mockDiscordSession) Close() error { m.closed = true; return nil }

func (m *mockDiscordSession) Self() *discordgo.User {
	return &discordgo.User{ID: "B0T", Username: "plusbot"}
}

func (m *mockDiscordSession) OnMessageCreate(fn func(m *discordgo.MessageCreate)) {
	m.handler = fn
}

func (m *mockDiscordSession) SendMessage(channelID, content string) error {
	m.sent[channelID] = append(m.sent[channelID], content)
	return nil
}

func (m *mockDiscordSession) DirectChannel(userID string) (string, error) {
	if m.dmErr != nil {
		return "", m.dmErr
	}
	return "dm-" + userID, nil
}

func startDiscord(t *testing.T, cfg config.DiscordConfig) (*DiscordChannel, *mockDiscordSession, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(10)
	session := newMockDiscord()
	cfg.Token = "fake-token"
	ch, err := NewDiscordChannelWithFactory(cfg, b, func(token string) (DiscordSession, error) {
		return session, nil
	})
	if err != nil {
		t.Fatalf("NewDiscordChannelWithFactory: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return ch, session, b
}

func discordMessage(authorID, content string, mentions ...*discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "alice"},
		Mentions:  mentions,
		Timestamp: time.Unix(1700000000, 0),
	}}
}

func TestNewDiscordChannel_NoToken(t *testing.T) {
	if _, err := NewDiscordChannel(config.DiscordConfig{}, bus.NewMessageBus(1)); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestDiscordChannel_StartRegistersHandler(t *testing.T) {
	ch, session, _ := startDiscord(t, config.DiscordConfig{})
	if !session.opened {
		t.Error("session should be opened")
	}
	if session.handler == nil {
		t.Fatal("message handler should be registered")
	}
	if ch.selfID != "B0T" {
		t.Errorf("selfID = %q, want B0T", ch.selfID)
	}
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if !session.closed {
		t.Error("session should be closed")
	}
}

func TestDiscordChannel_StartOpenError(t *testing.T) {
	b := bus.NewMessageBus(1)
	session := newMockDiscord()
	session.openErr = fmt.Errorf("gateway down")
	ch, _ := NewDiscordChannelWithFactory(config.DiscordConfig{Token: "x"}, b, func(string) (DiscordSession, error) {
		return session, nil
	})
	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error when the gateway cannot be opened")
	}
}

func TestDiscordChannel_HandleMessage(t *testing.T) {
	_, session, b := startDiscord(t, config.DiscordConfig{})

	session.handler(discordMessage("U1", "<@U2>++ thanks"))
	inbound := <-b.Inbound
	if inbound.Type != "message" {
		t.Errorf("type = %q, want message", inbound.Type)
	}
	if inbound.Channel != "discord" || inbound.ChatID != "c1" {
		t.Errorf("channel/chat = %q/%q", inbound.Channel, inbound.ChatID)
	}
	if inbound.SenderRef != "<@U1>" || inbound.BotRef != "<@B0T>" {
		t.Errorf("refs = %q/%q", inbound.SenderRef, inbound.BotRef)
	}

	session.handler(discordMessage("U1", "<@B0T> help", &discordgo.User{ID: "B0T"}))
	inbound = <-b.Inbound
	if inbound.Type != "app_mention" {
		t.Errorf("type = %q, want app_mention", inbound.Type)
	}
}

func TestDiscordChannel_HandleMessage_SubtypeAndBots(t *testing.T) {
	_, session, b := startDiscord(t, config.DiscordConfig{})

	pinned := discordMessage("U1", "pinned a message")
	pinned.Type = discordgo.MessageTypeChannelPinnedMessage
	session.handler(pinned)
	inbound := <-b.Inbound
	if !strings.HasPrefix(inbound.Subtype, "discord_type_") {
		t.Errorf("subtype = %q", inbound.Subtype)
	}

	fromBot := discordMessage("B0T", "tea++")
	fromBot.Author.Bot = true
	session.handler(fromBot)
	inbound = <-b.Inbound
	if !inbound.FromBot {
		t.Error("expected FromBot")
	}
}

func TestDiscordChannel_HandleMessage_Rejected(t *testing.T) {
	_, session, b := startDiscord(t, config.DiscordConfig{AllowFrom: []string{"U9"}})

	session.handler(discordMessage("U1", "tea++"))
	select {
	case <-b.Inbound:
		t.Error("should not receive message from rejected user")
	default:
	}
}

func TestDiscordChannel_Send(t *testing.T) {
	ch, session, _ := startDiscord(t, config.DiscordConfig{})

	if err := ch.Send(bus.OutboundMessage{ChatID: "c1", Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(bus.OutboundMessage{ChatID: "c1", UserID: "U1", Direct: true, Content: "psst"}); err != nil {
		t.Fatalf("Send direct: %v", err)
	}
	long := strings.Repeat("x", 4500)
	if err := ch.Send(bus.OutboundMessage{ChatID: "c2", Content: long}); err != nil {
		t.Fatalf("Send long: %v", err)
	}

	if got := session.sent["c1"]; len(got) != 1 || got[0] != "hello" {
		t.Errorf("c1 = %v", got)
	}
	if got := session.sent["dm-U1"]; len(got) != 1 || got[0] != "psst" {
		t.Errorf("dm = %v", got)
	}
	if got := session.sent["c2"]; len(got) != 3 {
		t.Errorf("long message chunks = %d, want 3", len(got))
	}
}

func TestDiscordChannel_SendDirectError(t *testing.T) {
	ch, session, _ := startDiscord(t, config.DiscordConfig{})
	session.dmErr = fmt.Errorf("cannot dm")

	if err := ch.Send(bus.OutboundMessage{UserID: "U1", Direct: true, Content: "psst"}); err == nil {
		t.Error("expected error when the DM channel cannot be opened")
	}
}

func TestDiscordChannel_SendNotStarted(t *testing.T) {
	ch, _ := NewDiscordChannel(config.DiscordConfig{Token: "x"}, bus.NewMessageBus(1))
	if err := ch.Send(bus.OutboundMessage{ChatID: "c1", Content: "hi"}); err == nil {
		t.Error("expected error before Start")
	}
}

func TestSplitMessage(t *testing.T) {
	got := splitMessage("aaa\nbbb\nccc", 8)
	if len(got) != 2 || got[0] != "aaa\nbbb" || got[1] != "ccc" {
		t.Errorf("splitMessage = %q", got)
	}
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("splitMessage empty = %q", got)
	}
}
