package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stellarlinkco/plusbot/internal/config"
	"github.com/stellarlinkco/plusbot/internal/karma"
	"github.com/stellarlinkco/plusbot/internal/quota"
	"github.com/stellarlinkco/plusbot/internal/store"
)

// LedgerStore is a ledger backend the gateway can rank and close.
type LedgerStore interface {
	karma.Ledger
	karma.Leaderboard
	Close() error
}

// QuotaBackend is a quota store that may hold expirable windows.
type QuotaBackend interface {
	karma.QuotaStore
	Prune(ctx context.Context) (int, error)
}

// Backends holds the configured ledger and quota stores.
type Backends struct {
	Ledger LedgerStore
	Quota  QuotaBackend
	redis  redis.UniversalClient
}

// OpenBackends builds the stores selected by cfg. Redis is dialled once and
// shared when both stores use it.
func OpenBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	if cfg.Store.Backend == config.BackendRedis || cfg.Quota.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		b.redis = client
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		b.Ledger = store.NewMemory()
	case config.BackendSQLite:
		ledger, err := store.NewSQLite(cfg.Store.DBPath)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open score store: %w", err)
		}
		b.Ledger = ledger
	case config.BackendRedis:
		b.Ledger = store.NewRedis(b.redis, cfg.Redis.KeyPrefix)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	window := cfg.Quota.WindowDuration()
	switch cfg.Quota.Backend {
	case config.BackendMemory:
		b.Quota = quota.NewMemory(window, cfg.Quota.Limit)
	case config.BackendRedis:
		b.Quota = quota.NewRedis(b.redis, cfg.Redis.KeyPrefix, window, cfg.Quota.Limit)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}

	log.Printf("[gateway] store=%s quota=%s (limit %d per %s)", cfg.Store.Backend, cfg.Quota.Backend, cfg.Quota.Limit, window)
	return b, nil
}

func (b *Backends) Close() error {
	var errs []error
	if b.Ledger != nil {
		if err := b.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// History returns recent score changes when the ledger keeps them.
func (b *Backends) History(ctx context.Context, entity string, limit int) ([]store.Change, bool, error) {
	h, ok := b.Ledger.(*store.SQLite)
	if !ok {
		return nil, false, nil
	}
	changes, err := h.History(ctx, entity, limit)
	return changes, true, err
}

// BotRef is the default mention token for the bot.
func BotRef(cfg *config.Config) string {
	if id := strings.TrimSpace(cfg.Bot.ID); id != "" {
		return "<@" + id + ">"
	}
	return "@" + cfg.Bot.Name
}

var knownActions = map[karma.Action]bool{
	karma.ActionHelp:           true,
	karma.ActionHelpAll:        true,
	karma.ActionThanks:         true,
	karma.ActionPlus:           true,
	karma.ActionMinus:          true,
	karma.ActionEqual:          true,
	karma.ActionLeaderboard:    true,
	karma.ActionLeaderboardAll: true,
}

// NewRouter builds the scoring pipeline from cfg on top of the given stores.
func NewRouter(cfg *config.Config, b *Backends, sender karma.Sender, observer karma.Observer) (*karma.Router, error) {
	bindings := make([]karma.Binding, 0, len(cfg.Commands))
	for _, cmd := range cfg.Commands {
		action := karma.Action(strings.ToLower(strings.TrimSpace(cmd.Action)))
		if !knownActions[action] {
			return nil, fmt.Errorf("command %q: unknown action %q", cmd.Keyword, cmd.Action)
		}
		bindings = append(bindings, karma.Binding{Keyword: strings.TrimSpace(cmd.Keyword), Action: action})
	}

	canned := make([]karma.CannedReply, 0, len(cfg.Canned))
	for _, c := range cfg.Canned {
		cr, err := karma.NewCannedReply(c.Pattern, c.Reply)
		if err != nil {
			return nil, fmt.Errorf("canned reply: %w", err)
		}
		canned = append(canned, cr)
	}

	return karma.NewRouter(b.Ledger, b.Quota, sender, karma.Options{
		BotRef:          BotRef(cfg),
		Bindings:        bindings,
		Canned:          canned,
		RetryAfter:      cfg.Quota.WindowDuration(),
		LeaderboardSize: cfg.Bot.LeaderboardSize,
		Random:          karma.Range{Min: cfg.Random.Random.Min, Max: cfg.Random.Random.Max},
		Extreme:         karma.Range{Min: cfg.Random.Extreme.Min, Max: cfg.Random.Extreme.Max},
		Observer:        observer,
	}), nil
}
