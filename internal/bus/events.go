package bus

import "time"

// InboundMessage is a chat event decoded by a channel.
type InboundMessage struct {
	ID         string
	Channel    string
	Type       string // "message" or "app_mention"
	Subtype    string
	SenderID   string
	SenderName string
	SenderRef  string // how to address the sender in reply text
	ChatID     string
	BotRef     string // how users mention the bot on this channel
	Content    string
	FromBot    bool
	Timestamp  time.Time
	Metadata   map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	UserID   string
	Content  string
	Direct   bool // deliver privately to UserID instead of ChatID
	ReplyTo  string
	Metadata map[string]any
}
