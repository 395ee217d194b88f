package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBotName         = "plusbot"
	DefaultLeaderboardSize = 10
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18790
	DefaultWorkers         = 16
	DefaultBufSize         = 100
	DefaultQuotaWindow     = "1h"
	DefaultQuotaLimit      = 10
	DefaultRandomMin       = -5
	DefaultRandomMax       = 5
	DefaultExtremeMin      = -50
	DefaultExtremeMax      = 50
	DefaultMetricsAddr     = ":9464"
	DefaultMetricsPath     = "/metrics"
	DefaultRedisKeyPrefix  = "plusbot:"
	EnvPrefix              = "PLUSBOT_"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Bot       BotConfig        `json:"bot" yaml:"bot"`
	Commands  []CommandConfig  `json:"commands" yaml:"commands"`
	Canned    []CannedConfig   `json:"canned" yaml:"canned"`
	Quota     QuotaConfig      `json:"quota" yaml:"quota" envPrefix:"QUOTA_"`
	Store     StoreConfig      `json:"store" yaml:"store" envPrefix:"STORE_"`
	Redis     RedisConfig      `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Random    RandomConfig     `json:"random" yaml:"random"`
	Channels  ChannelsConfig   `json:"channels" yaml:"channels"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway" envPrefix:"GATEWAY_"`
	Metrics   MetricsConfig    `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	Schedules []ScheduleConfig `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

type BotConfig struct {
	// ID is the platform user id the bot is mentioned by when a transport does not report it.
	ID              string `json:"id,omitempty" yaml:"id,omitempty" env:"BOT_ID"`
	Name            string `json:"name" yaml:"name" env:"BOT_NAME"`
	LeaderboardSize int    `json:"leaderboardSize" yaml:"leaderboardSize" env:"LEADERBOARD_SIZE"`
}

// CommandConfig binds a mention keyword to a bot action.
type CommandConfig struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Action  string `json:"action" yaml:"action"`
}

// CannedConfig is a side pattern answered with a fixed reply.
type CannedConfig struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Reply   string `json:"reply" yaml:"reply"`
}

type QuotaConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"`
	Window  string `json:"window" yaml:"window" env:"WINDOW"`
	Limit   int    `json:"limit" yaml:"limit" env:"LIMIT"`
}

// WindowDuration returns the parsed quota window, falling back to the default.
func (q QuotaConfig) WindowDuration() time.Duration {
	d, err := time.ParseDuration(q.Window)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultQuotaWindow)
	}
	return d
}

type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"`
	DBPath  string `json:"dbPath,omitempty" yaml:"dbPath,omitempty" env:"DB_PATH"`
}

type RedisConfig struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty" env:"ADDR"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty" env:"PASSWORD"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty" env:"DB"`
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty" env:"KEY_PREFIX"`
}

type RangeConfig struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

type RandomConfig struct {
	Random  RangeConfig `json:"random" yaml:"random"`
	Extreme RangeConfig `json:"extreme" yaml:"extreme"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord" envPrefix:"DISCORD_"`
	Slack    SlackConfig    `json:"slack" yaml:"slack" envPrefix:"SLACK_"`
	WebUI    WebUIConfig    `json:"webui" yaml:"webui" envPrefix:"WEBUI_"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token     string   `json:"token" yaml:"token" env:"TOKEN"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
	Proxy     string   `json:"proxy,omitempty" yaml:"proxy,omitempty" env:"PROXY"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token     string   `json:"token" yaml:"token" env:"TOKEN"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
}

type SlackConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	BotToken  string   `json:"botToken" yaml:"botToken" env:"BOT_TOKEN"`
	AppToken  string   `json:"appToken" yaml:"appToken" env:"APP_TOKEN"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM" envSeparator:","`
}

type GatewayConfig struct {
	Host    string `json:"host" yaml:"host" env:"HOST"`
	Port    int    `json:"port" yaml:"port" env:"PORT"`
	Workers int    `json:"workers" yaml:"workers" env:"WORKERS"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// ScheduleConfig is a recurring maintenance job, expressed as a six-field cron spec.
type ScheduleConfig struct {
	Name    string `json:"name" yaml:"name"`
	Expr    string `json:"expr" yaml:"expr"`
	Action  string `json:"action" yaml:"action"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty" yaml:"chatId,omitempty"`
}

// DefaultCommands is the mention keyword table, in match priority order.
func DefaultCommands() []CommandConfig {
	return []CommandConfig{
		{Keyword: "helpall", Action: "helpall"},
		{Keyword: "help", Action: "help"},
		{Keyword: "thx", Action: "thanks"},
		{Keyword: "thanks", Action: "thanks"},
		{Keyword: "thankyou", Action: "thanks"},
		{Keyword: "leaderboardall", Action: "leaderboardall"},
		{Keyword: "leaderboard", Action: "leaderboard"},
		{Keyword: "++", Action: "plus"},
		{Keyword: "--", Action: "minus"},
		{Keyword: "==", Action: "equal"},
	}
}

func DefaultCanned() []CannedConfig {
	return []CannedConfig{
		{Pattern: `(?i)quack`, Reply: ""},
		{Pattern: `!xy\b`, Reply: "Solutions start with the problem, not your solution. Check out http://xyproblem.info"},
		{Pattern: `!ask\b`, Reply: "Don't ask to ask, just ask. Instead of \"Does anyone use X?\" try \"Whenever I use feature Y of X it fails with error Z. I already tried A and B. Any ideas?\""},
		{Pattern: `!thick\b`, Reply: "Thick imaging sucks, try just using the install.wim."},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:            DefaultBotName,
			LeaderboardSize: DefaultLeaderboardSize,
		},
		Commands: DefaultCommands(),
		Canned:   DefaultCanned(),
		Quota: QuotaConfig{
			Backend: BackendMemory,
			Window:  DefaultQuotaWindow,
			Limit:   DefaultQuotaLimit,
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			DBPath:  filepath.Join(ConfigDir(), "data", "scores.db"),
		},
		Redis: RedisConfig{
			KeyPrefix: DefaultRedisKeyPrefix,
		},
		Random: RandomConfig{
			Random:  RangeConfig{Min: DefaultRandomMin, Max: DefaultRandomMax},
			Extreme: RangeConfig{Min: DefaultExtremeMin, Max: DefaultExtremeMax},
		},
		Gateway: GatewayConfig{
			Host:    DefaultHost,
			Port:    DefaultPort,
			Workers: DefaultWorkers,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
			Path: DefaultMetricsPath,
		},
		Schedules: []ScheduleConfig{
			{Name: "prune-quota", Expr: "0 */5 * * * *", Action: "quota:prune"},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".plusbot")
}

// ConfigPath honours PLUSBOT_CONFIG, otherwise ~/.plusbot/config.json.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if isYAML(path) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Bot.Name == "" {
		c.Bot.Name = def.Bot.Name
	}
	if c.Bot.LeaderboardSize <= 0 {
		c.Bot.LeaderboardSize = def.Bot.LeaderboardSize
	}
	if len(c.Commands) == 0 {
		c.Commands = def.Commands
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = def.Quota.Backend
	}
	if c.Quota.Window == "" {
		c.Quota.Window = def.Quota.Window
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = def.Store.DBPath
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = def.Redis.KeyPrefix
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = def.Gateway.Host
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = def.Gateway.Port
	}
	if c.Gateway.Workers <= 0 {
		c.Gateway.Workers = def.Gateway.Workers
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
}

// Validate reports the first configuration value that cannot be used.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Quota.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown quota backend %q", c.Quota.Backend)
	}
	if (c.Store.Backend == BackendRedis || c.Quota.Backend == BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis backend selected but redis.addr is empty")
	}
	if d, err := time.ParseDuration(c.Quota.Window); err != nil || d <= 0 {
		return fmt.Errorf("invalid quota window %q", c.Quota.Window)
	}
	if c.Quota.Limit < 0 {
		return fmt.Errorf("quota limit must not be negative, got %d", c.Quota.Limit)
	}
	if c.Random.Random.Min > c.Random.Random.Max {
		return fmt.Errorf("random range min %d exceeds max %d", c.Random.Random.Min, c.Random.Random.Max)
	}
	if c.Random.Extreme.Min > c.Random.Extreme.Max {
		return fmt.Errorf("extreme range min %d exceeds max %d", c.Random.Extreme.Min, c.Random.Extreme.Max)
	}
	for _, cmd := range c.Commands {
		if strings.TrimSpace(cmd.Keyword) == "" {
			return fmt.Errorf("command with action %q has an empty keyword", cmd.Action)
		}
	}
	for _, canned := range c.Canned {
		if _, err := regexp.Compile(canned.Pattern); err != nil {
			return fmt.Errorf("canned pattern %q: %w", canned.Pattern, err)
		}
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
