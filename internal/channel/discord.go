package channel

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/config"
)

const discordChannelName = "discord"

// DiscordSession is the part of discordgo.Session the channel uses (allows mocking).
type DiscordSession interface {
	Open() error
	Close() error
	Self() *discordgo.User
	OnMessageCreate(fn func(m *discordgo.MessageCreate))
	SendMessage(channelID, content string) error
	DirectChannel(userID string) (string, error)
}

type discordWrapper struct {
	s *discordgo.Session
}

func (w *discordWrapper) Open() error  { return w.s.Open() }
func (w *discordWrapper) Close() error { return w.s.Close() }

func (w *discordWrapper) Self() *discordgo.User {
	if w.s.State == nil {
		return nil
	}
	return w.s.State.User
}

func (w *discordWrapper) OnMessageCreate(fn func(m *discordgo.MessageCreate)) {
	w.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { fn(m) })
}

func (w *discordWrapper) SendMessage(channelID, content string) error {
	_, err := w.s.ChannelMessageSend(channelID, content)
	return err
}

func (w *discordWrapper) DirectChannel(userID string) (string, error) {
	ch, err := w.s.UserChannelCreate(userID)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

// DiscordSessionFactory creates DiscordSession instances (allows mocking)
type DiscordSessionFactory func(token string) (DiscordSession, error)

var defaultDiscordFactory DiscordSessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent
	return &discordWrapper{s: s}, nil
}

type DiscordChannel struct {
	BaseChannel
	token   string
	session DiscordSession
	selfID  string
	factory DiscordSessionFactory
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultDiscordFactory)
}

func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory DiscordSessionFactory) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		factory:     factory,
	}, nil
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := d.factory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	d.setContext(ctx)
	session.OnMessageCreate(d.handleMessage)
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	d.session = session
	if self := session.Self(); self != nil {
		d.selfID = self.ID
		log.Printf("[discord] connected as %s", self.Username)
	}
	return nil
}

func (d *DiscordChannel) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if !d.IsAllowed(m.Author.ID) {
		log.Printf("[discord] rejected message from %s (%s)", m.Author.ID, m.Author.Username)
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}

	eventType := typeMessage
	if m.GuildID == "" {
		eventType = typeAppMention
	}
	for _, u := range m.Mentions {
		if u != nil && d.selfID != "" && u.ID == d.selfID {
			eventType = typeAppMention
			break
		}
	}

	var subtype string
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		subtype = fmt.Sprintf("discord_type_%d", int(m.Type))
	}

	var botRef string
	if d.selfID != "" {
		botRef = "<@" + d.selfID + ">"
	}

	d.publish(bus.InboundMessage{
		Type:       eventType,
		Subtype:    subtype,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		SenderRef:  "<@" + m.Author.ID + ">",
		ChatID:     m.ChannelID,
		BotRef:     botRef,
		Content:    m.Content,
		FromBot:    m.Author.Bot,
		Timestamp:  m.Timestamp,
		Metadata: map[string]any{
			"guild_id":   m.GuildID,
			"message_id": m.ID,
		},
	})
}

// Send delivers msg, opening a DM channel for direct replies.
func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	target := msg.ChatID
	if msg.Direct && msg.UserID != "" {
		dm, err := d.session.DirectChannel(msg.UserID)
		if err != nil {
			return fmt.Errorf("open discord dm: %w", err)
		}
		target = dm
	}
	for _, chunk := range splitMessage(msg.Content, 2000) {
		if err := d.session.SendMessage(target, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			log.Printf("[discord] close error: %v", err)
		}
	}
	log.Printf("[discord] stopped")
	return nil
}

// splitMessage breaks s into chunks of at most maxLen bytes, preferring newline boundaries.
func splitMessage(s string, maxLen int) []string {
	var out []string
	for len(s) > maxLen {
		idx := strings.LastIndex(s[:maxLen], "\n")
		if idx <= 0 {
			idx = maxLen
		}
		out = append(out, s[:idx])
		s = strings.TrimPrefix(s[idx:], "\n")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
