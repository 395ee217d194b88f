package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/plusbot/internal/config"
	"github.com/stellarlinkco/plusbot/internal/gateway"
	"github.com/stellarlinkco/plusbot/internal/karma"
)

// BackendsFactory opens the score and quota stores (allows mocking in tests)
type BackendsFactory func(ctx context.Context, cfg *config.Config) (*gateway.Backends, error)

// ChatOptions for running chat with custom dependencies
type ChatOptions struct {
	BackendsFactory BackendsFactory
	Stdin           io.Reader
	Stdout          io.Writer
	Stderr          io.Writer
	Message         string
	Actor           string
	EventType       string
	Channel         string
}

var rootCmd = &cobra.Command{
	Use:   "plusbot",
	Short: "plusbot - chat karma bot",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send chat lines through the bot in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + metrics)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plusbot status",
	RunE:  runStatus,
}

var scoreCmd = &cobra.Command{
	Use:   "score <entity>",
	Short: "Show an entity's score and recent changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the leaderboard",
	RunE:  runLeaderboard,
}

var (
	messageFlag string
	actorFlag   string
	typeFlag    string
	channelFlag string
	historyFlag int
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVar(&actorFlag, "actor", "cli", "User id the lines are sent as")
	chatCmd.Flags().StringVar(&typeFlag, "type", karma.EventMessage, "Event type (message or app_mention)")
	chatCmd.Flags().StringVar(&channelFlag, "channel", "cli", "Channel id the lines are sent to")
	scoreCmd.Flags().IntVar(&historyFlag, "history", 10, "Number of recent changes to show (sqlite store only)")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd, scoreCmd, leaderboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
		Message:   messageFlag,
		Actor:     actorFlag,
		EventType: typeFlag,
		Channel:   channelFlag,
	})
}

// runChatWithOptions pushes lines through the real router against the configured stores.
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.BackendsFactory
	if factory == nil {
		factory = gateway.OpenBackends
	}

	ctx := context.Background()
	backends, err := factory(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	sender := karma.SenderFunc(func(_ context.Context, r karma.Reply) error {
		if r.Direct {
			fmt.Fprintf(stdout, "(private) %s\n", r.Text)
			return nil
		}
		fmt.Fprintln(stdout, r.Text)
		return nil
	})
	router, err := gateway.NewRouter(cfg, backends, sender, nil)
	if err != nil {
		return err
	}

	actor := opts.Actor
	if actor == "" {
		actor = "cli"
	}
	eventType := opts.EventType
	if eventType == "" {
		eventType = karma.EventMessage
	}
	channelID := opts.Channel
	if channelID == "" {
		channelID = "cli"
	}

	send := func(text string) error {
		err := router.Handle(ctx, karma.Event{
			ID:        uuid.NewString(),
			Transport: "cli",
			Type:      eventType,
			Text:      text,
			ActorID:   actor,
			ChannelID: channelID,
			BotRef:    gateway.BotRef(cfg),
			Timestamp: time.Now(),
		})
		if karma.IsRejection(err) {
			fmt.Fprintf(stderr, "ignored: %v\n", err)
			return nil
		}
		return err
	}

	// Single message mode
	if opts.Message != "" {
		if err := send(opts.Message); err != nil {
			return fmt.Errorf("handle message: %w", err)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintf(stdout, "plusbot chat as %s (type 'exit' to quit)\n", actor)
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if err := send(input); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Backend == config.BackendSQLite {
		dataDir := filepath.Dir(cfg.Store.DBPath)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		fmt.Fprintf(out, "Data dir ready: %s\n", dataDir)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to enable a channel and set its token\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set PLUSBOT_TELEGRAM_TOKEN / PLUSBOT_SLACK_BOT_TOKEN environment variables")
	fmt.Fprintln(out, "  3. Run 'plusbot chat -m \"coffee++\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Bot: %s (mention %s)\n", cfg.Bot.Name, gateway.BotRef(cfg))
	fmt.Fprintf(out, "Store: %s\n", storeDisplay(cfg))
	fmt.Fprintf(out, "Quota: %s, %d per %s\n", cfg.Quota.Backend, cfg.Quota.Limit, cfg.Quota.WindowDuration())
	if cfg.Store.Backend == config.BackendRedis || cfg.Quota.Backend == config.BackendRedis {
		fmt.Fprintf(out, "Redis: %s (db %d)\n", cfg.Redis.Addr, cfg.Redis.DB)
	}
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "Discord: enabled=%v\n", cfg.Channels.Discord.Enabled)
	fmt.Fprintf(out, "Slack: enabled=%v\n", cfg.Channels.Slack.Enabled)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "Metrics: %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	} else {
		fmt.Fprintln(out, "Metrics: disabled")
	}
	for _, s := range cfg.Schedules {
		fmt.Fprintf(out, "Schedule: %s [%s] %s\n", s.Name, s.Expr, s.Action)
	}
	return nil
}

func storeDisplay(cfg *config.Config) string {
	if cfg.Store.Backend != config.BackendSQLite {
		return cfg.Store.Backend
	}
	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		return fmt.Sprintf("sqlite %s (not created yet)", cfg.Store.DBPath)
	}
	return "sqlite " + cfg.Store.DBPath
}

func openForCommand(cmd *cobra.Command) (*config.Config, *gateway.Backends, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	backends, err := gateway.OpenBackends(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backends, nil
}

func runScore(cmd *cobra.Command, args []string) error {
	_, backends, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer backends.Close()
	return printScore(cmd.Context(), cmd.OutOrStdout(), backends, args[0], historyFlag)
}

func printScore(ctx context.Context, out io.Writer, backends *gateway.Backends, raw string, history int) error {
	entity := karma.CanonicalTarget(raw)
	if entity == "" {
		return fmt.Errorf("invalid entity %q", raw)
	}
	score, err := backends.Ledger.Get(ctx, entity)
	if err != nil {
		return fmt.Errorf("get score: %w", err)
	}
	fmt.Fprintf(out, "%s: %d\n", entity, score)

	if history <= 0 {
		return nil
	}
	changes, ok, err := backends.History(ctx, entity, history)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if !ok {
		return nil
	}
	for _, c := range changes {
		fmt.Fprintf(out, "  %s  %+d -> %d\n", c.CreatedAt.Local().Format(time.DateTime), c.Delta, c.Score)
	}
	return nil
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	cfg, backends, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer backends.Close()
	return printLeaderboard(cmd.Context(), cmd.OutOrStdout(), cfg, backends)
}

func printLeaderboard(ctx context.Context, out io.Writer, cfg *config.Config, backends *gateway.Backends) error {
	router, err := gateway.NewRouter(cfg, backends, karma.SenderFunc(func(context.Context, karma.Reply) error { return nil }), nil)
	if err != nil {
		return err
	}
	text, err := router.Leaderboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, text)
	return nil
}
