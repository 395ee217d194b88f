// Package karma interprets chat events and keeps per-entity scores.
//
// A transport decodes a platform message into an Event and hands it to a
// Router. The router validates the event, extracts a scoring command,
// applies the self-target and quota policy, mutates the Ledger and sends
// the composed reply through a Sender.
package karma

import (
	"context"
	"time"
)

// Event types delivered by the transports.
const (
	EventMessage    = "message"
	EventAppMention = "app_mention"
)

// Event is one inbound chat event. An empty Subtype means the event has none.
type Event struct {
	ID        string
	Transport string
	Type      string
	Subtype   string
	Text      string
	ActorID   string
	// ActorName is the actor's handle on the platform, if it has one.
	ActorName string
	// ActorRef is how the actor is addressed in reply text. Defaults to <@ActorID>.
	ActorRef  string
	ChannelID string
	// BotRef is the token users write to mention the bot on this transport.
	BotRef    string
	FromBot   bool
	Timestamp time.Time
}

// Mention returns the text used to address the actor in a reply.
func (e Event) Mention() string {
	if e.ActorRef != "" {
		return e.ActorRef
	}
	return "<@" + e.ActorID + ">"
}

// Reply is a message the core asks a transport to deliver.
type Reply struct {
	Text      string
	Transport string
	ChannelID string
	// UserID is the recipient of a direct reply.
	UserID string
	Direct bool
}

// Sender delivers replies back to the originating transport.
type Sender interface {
	Send(ctx context.Context, r Reply) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, r Reply) error

func (f SenderFunc) Send(ctx context.Context, r Reply) error {
	return f(ctx, r)
}

// Ledger is the durable entity -> score mapping.
// Update must apply fn atomically per entity, treating a missing entity as 0.
type Ledger interface {
	Get(ctx context.Context, entity string) (int, error)
	Update(ctx context.Context, entity string, fn func(current int) int) (int, error)
}

// Standing is one leaderboard row.
type Standing struct {
	Entity string
	Score  int
}

// Leaderboard is implemented by ledgers that can rank their entries.
type Leaderboard interface {
	Top(ctx context.Context, n int) ([]Standing, error)
}

// QuotaStore records one mutating attempt for an actor and reports whether
// the actor is still within quota.
type QuotaStore interface {
	RecordAndCheck(ctx context.Context, actorID string) (bool, error)
}

// Observer receives pipeline outcomes, typically for metrics.
type Observer interface {
	EventHandled(eventType, outcome string)
	ScoreChanged(operation string)
}

type nopObserver struct{}

func (nopObserver) EventHandled(string, string) {}
func (nopObserver) ScoreChanged(string)         {}
