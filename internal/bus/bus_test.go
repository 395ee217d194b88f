package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishInboundFillsDefaults(t *testing.T) {
	b := NewMessageBus(1)
	require.NoError(t, b.PublishInbound(context.Background(), InboundMessage{Channel: "webui", Content: "tea++"}))

	msg := <-b.Inbound
	require.NotEmpty(t, msg.ID)
	require.False(t, msg.Timestamp.IsZero())
	require.Equal(t, "webui:", msg.SessionKey())
}

func TestPublishInboundRespectsContext(t *testing.T) {
	b := NewMessageBus(1)
	require.NoError(t, b.PublishInbound(context.Background(), InboundMessage{ID: "1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.PublishInbound(ctx, InboundMessage{ID: "2"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatchOutboundRoutesByChannel(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "slack", Content: "dropped"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", Content: "hello"}))

	select {
	case msg := <-got:
		require.Equal(t, "hello", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	require.Empty(t, got)
}
