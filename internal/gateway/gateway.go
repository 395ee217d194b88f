package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/channel"
	"github.com/stellarlinkco/plusbot/internal/config"
	"github.com/stellarlinkco/plusbot/internal/cron"
	"github.com/stellarlinkco/plusbot/internal/karma"
	"github.com/stellarlinkco/plusbot/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Scheduled job actions.
const (
	ActionPruneQuota      = "quota:prune"
	ActionPostLeaderboard = "leaderboard:post"
)

// Options for creating a Gateway
type Options struct {
	// Backends overrides the stores built from config (for testing).
	Backends   *Backends
	Registry   *prometheus.Registry
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	backends   *Backends
	router     *karma.Router
	channels   *channel.ChannelManager
	cron       *cron.Service
	metrics    *metrics.Metrics
	metricsSrv *http.Server
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		metrics:    metrics.NewMetrics(opts.Registry),
		signalChan: opts.SignalChan,
	}

	g.backends = opts.Backends
	if g.backends == nil {
		b, err := OpenBackends(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		g.backends = b
	}

	router, err := NewRouter(cfg, g.backends, karma.SenderFunc(g.sendReply), g.metrics)
	if err != nil {
		_ = g.backends.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}
	g.router = router

	g.cron = cron.NewService()
	g.cron.OnJob = g.runJob
	for _, sc := range cfg.Schedules {
		job := cron.NewJob(sc.Name, sc.Expr, sc.Action)
		job.Channel = sc.Channel
		job.ChatID = sc.ChatID
		if _, err := g.cron.AddJob(job); err != nil {
			_ = g.backends.Close()
			return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
	}

	chMgr, err := channel.NewChannelManager(cfg, g.bus)
	if err != nil {
		_ = g.backends.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// sendReply hands a composed reply to the outbound queue.
func (g *Gateway) sendReply(ctx context.Context, r karma.Reply) error {
	if err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: r.Transport,
		ChatID:  r.ChannelID,
		UserID:  r.UserID,
		Content: r.Text,
		Direct:  r.Direct,
	}); err != nil {
		return fmt.Errorf("queue reply: %w", err)
	}
	g.metrics.ReplySent(r.Transport, r.Direct)
	return nil
}

func (g *Gateway) runJob(ctx context.Context, job cron.Job) (string, error) {
	switch job.Action {
	case ActionPruneQuota:
		n, err := g.backends.Quota.Prune(ctx)
		if err != nil {
			return "", fmt.Errorf("prune quota: %w", err)
		}
		return fmt.Sprintf("pruned %d windows", n), nil
	case ActionPostLeaderboard:
		if job.Channel == "" || job.ChatID == "" {
			return "", fmt.Errorf("job %s has no channel to post to", job.Name)
		}
		text, err := g.router.Leaderboard(ctx)
		if err != nil {
			return "", err
		}
		if err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: job.Channel,
			ChatID:  job.ChatID,
			Content: text,
		}); err != nil {
			return "", fmt.Errorf("queue leaderboard: %w", err)
		}
		return text, nil
	}
	return "", fmt.Errorf("unknown job action %q", job.Action)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	g.startMetrics()

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) startMetrics() {
	if !g.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(g.cfg.Metrics.Path, g.metrics.Handler())
	g.metricsSrv = &http.Server{
		Addr:              g.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[gateway] metrics on %s%s", g.cfg.Metrics.Addr, g.cfg.Metrics.Path)
		if err := g.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] metrics server error: %v", err)
		}
	}()
}

// processLoop hands inbound events to at most cfg.Gateway.Workers concurrent handlers.
func (g *Gateway) processLoop(ctx context.Context) {
	var eg errgroup.Group
	eg.SetLimit(g.workers())
	defer eg.Wait()

	for {
		select {
		case msg := <-g.bus.Inbound:
			eg.Go(func() error {
				g.handleInbound(ctx, msg)
				return nil
			})
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) workers() int {
	if g.cfg.Gateway.Workers > 0 {
		return g.cfg.Gateway.Workers
	}
	return config.DefaultWorkers
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	log.Printf("[gateway] inbound %s from %s/%s: %s", msg.ID, msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	start := time.Now()
	err := g.router.Handle(ctx, toEvent(msg))
	g.metrics.ObserveHandle(msg.Channel, time.Since(start))

	switch {
	case err == nil:
	case karma.IsRejection(err):
		log.Printf("[gateway] event %s rejected: %v", msg.ID, err)
	default:
		log.Printf("[gateway] event %s failed: %v", msg.ID, err)
	}
}

func toEvent(msg bus.InboundMessage) karma.Event {
	return karma.Event{
		ID:        msg.ID,
		Transport: msg.Channel,
		Type:      msg.Type,
		Subtype:   msg.Subtype,
		Text:      msg.Content,
		ActorID:   msg.SenderID,
		ActorName: msg.SenderName,
		ActorRef:  msg.SenderRef,
		ChannelID: msg.ChatID,
		BotRef:    msg.BotRef,
		FromBot:   msg.FromBot,
		Timestamp: msg.Timestamp,
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.metricsSrv.Shutdown(ctx); err != nil {
			log.Printf("[gateway] metrics shutdown warning: %v", err)
		}
	}
	if g.backends != nil {
		if err := g.backends.Close(); err != nil {
			log.Printf("[gateway] close backends warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
