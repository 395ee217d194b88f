package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/config"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewChannelManager(cfg *config.Config, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}
	chCfg := cfg.Channels

	if chCfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(chCfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}

	if chCfg.Discord.Enabled {
		ch, err := NewDiscordChannel(chCfg.Discord, b)
		if err != nil {
			return nil, fmt.Errorf("init discord channel: %w", err)
		}
		m.Register(ch)
	}

	if chCfg.Slack.Enabled {
		ch, err := NewSlackChannel(chCfg.Slack, b)
		if err != nil {
			return nil, fmt.Errorf("init slack channel: %w", err)
		}
		m.Register(ch)
	}

	if chCfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(chCfg.WebUI, cfg.Gateway, cfg.Bot.Name, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// Register adds ch and subscribes it to outbound replies addressed to its name.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
