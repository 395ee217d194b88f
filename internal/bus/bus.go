package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageBus carries inbound events from channels to the gateway and routes
// outbound replies to the channel that subscribed under the message's name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 100
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, size),
		Outbound:    make(chan OutboundMessage, size),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// PublishInbound fills in ID and Timestamp when missing and queues msg.
// It blocks until there is room or ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound queues a reply. It blocks until there is room or ctx is done.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOutbound registers the delivery function for channel. A later
// subscription for the same channel replaces the earlier one.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// DispatchOutbound delivers queued replies until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no subscriber for channel %q, dropping reply", msg.Channel)
				continue
			}
			fn(msg)
		}
	}
}
