package channel

import (
	"context"
	"log"
	"sync"

	"github.com/stellarlinkco/plusbot/internal/bus"
)

// Event types published on the bus.
const (
	typeMessage    = "message"
	typeAppMention = "app_mention"
)

// Channel is one chat transport.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds what every transport shares: its name, the bus and the sender allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
	run       *runState
}

type runState struct {
	mu  sync.RWMutex
	ctx context.Context
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	var allow map[string]struct{}
	if len(allowFrom) > 0 {
		allow = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			allow[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow, run: &runState{}}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may talk to the bot. An empty allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}

func (c *BaseChannel) setContext(ctx context.Context) {
	c.run.mu.Lock()
	c.run.ctx = ctx
	c.run.mu.Unlock()
}

// publish hands msg to the gateway. It blocks while the inbound queue is
// full and gives up once the channel has been stopped.
func (c *BaseChannel) publish(msg bus.InboundMessage) {
	c.run.mu.RLock()
	ctx := c.run.ctx
	c.run.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	msg.Channel = c.name
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		log.Printf("[%s] drop inbound message: %v", c.name, err)
	}
}
