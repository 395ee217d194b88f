package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/config"
)

const slackChannelName = "slack"

// SlackAPI is the part of slack.Client the channel uses (allows mocking).
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

type SlackChannel struct {
	BaseChannel
	botToken string
	appToken string
	api      SlackAPI
	socket   *socketmode.Client
	selfID   string
	cancel   context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, b *bus.MessageBus) (*SlackChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack app token is required for socket mode")
	}
	return &SlackChannel{
		BaseChannel: NewBaseChannel(slackChannelName, b, cfg.AllowFrom),
		botToken:    cfg.BotToken,
		appToken:    cfg.AppToken,
	}, nil
}

// SetAPI replaces the web API client (for testing)
func (s *SlackChannel) SetAPI(api SlackAPI, selfID string) {
	s.api = api
	s.selfID = selfID
}

func (s *SlackChannel) Start(ctx context.Context) error {
	client := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.SetAPI(client, auth.UserID)
	log.Printf("[slack] authorized as %s (%s)", auth.User, auth.UserID)

	ctx, s.cancel = context.WithCancel(ctx)
	s.setContext(ctx)
	s.socket = socketmode.New(client)

	go s.readEvents(ctx)
	go func() {
		if err := s.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[slack] socket mode stopped: %v", err)
		}
	}()
	return nil
}

func (s *SlackChannel) readEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				log.Printf("[slack] socket mode connected")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					s.socket.Ack(*evt.Request)
				}
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				s.handleEventsAPI(apiEvent)
			}
		}
	}
}

func (s *SlackChannel) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		s.dispatch(typeAppMention, "", ev.User, ev.Text, ev.Channel, ev.BotID, ev.TimeStamp)
	case *slackevents.MessageEvent:
		// A new message mentioning the bot also arrives as app_mention.
		if ev.SubType == "" && s.mentionsSelf(ev.Text) {
			return
		}
		s.dispatch(typeMessage, ev.SubType, ev.User, ev.Text, ev.Channel, ev.BotID, ev.TimeStamp)
	}
}

func (s *SlackChannel) mentionsSelf(text string) bool {
	return s.selfID != "" && strings.Contains(text, "<@"+s.selfID+">")
}

func (s *SlackChannel) dispatch(eventType, subtype, user, text, channelID, botID, ts string) {
	if user != "" && !s.IsAllowed(user) {
		log.Printf("[slack] rejected message from %s", user)
		return
	}
	var botRef string
	if s.selfID != "" {
		botRef = "<@" + s.selfID + ">"
	}
	s.publish(bus.InboundMessage{
		Type:      eventType,
		Subtype:   subtype,
		SenderID:  user,
		SenderRef: "<@" + user + ">",
		ChatID:    channelID,
		BotRef:    botRef,
		Content:   text,
		FromBot:   botID != "" || (s.selfID != "" && user == s.selfID),
		Timestamp: slackTime(ts),
		Metadata:  map[string]any{"ts": ts},
	})
}

// Send posts msg. Direct replies open an IM with the user first.
func (s *SlackChannel) Send(msg bus.OutboundMessage) error {
	if s.api == nil {
		return fmt.Errorf("slack client not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	target := msg.ChatID
	if msg.Direct && msg.UserID != "" {
		im, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{msg.UserID}})
		if err != nil {
			return fmt.Errorf("open slack im: %w", err)
		}
		target = im.ID
	}
	if _, _, err := s.api.PostMessageContext(ctx, target, slack.MsgOptionText(msg.Content, false)); err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}

func (s *SlackChannel) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	log.Printf("[slack] stopped")
	return nil
}

// slackTime parses a Slack "seconds.micros" timestamp.
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, usec*int64(time.Microsecond))
}
