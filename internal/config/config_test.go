package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Bot.Name != DefaultBotName {
		t.Errorf("bot name = %q, want %q", cfg.Bot.Name, DefaultBotName)
	}
	if cfg.Bot.LeaderboardSize != DefaultLeaderboardSize {
		t.Errorf("leaderboardSize = %d, want %d", cfg.Bot.LeaderboardSize, DefaultLeaderboardSize)
	}
	if cfg.Gateway.Host != DefaultHost {
		t.Errorf("host = %q, want %q", cfg.Gateway.Host, DefaultHost)
	}
	if cfg.Gateway.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Gateway.Port, DefaultPort)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("store backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Quota.Limit != DefaultQuotaLimit {
		t.Errorf("quota limit = %d, want %d", cfg.Quota.Limit, DefaultQuotaLimit)
	}
	if cfg.Random.Random.Min != -5 || cfg.Random.Extreme.Max != 50 {
		t.Errorf("random ranges = %+v", cfg.Random)
	}
	if len(cfg.Commands) == 0 || cfg.Commands[0].Keyword != "helpall" {
		t.Errorf("commands should start with helpall so it wins over help: %+v", cfg.Commands)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestQuotaConfig_WindowDuration(t *testing.T) {
	if got := (QuotaConfig{Window: "30m"}).WindowDuration(); got != 30*time.Minute {
		t.Errorf("window = %v, want 30m", got)
	}
	if got := (QuotaConfig{Window: "bogus"}).WindowDuration(); got != time.Hour {
		t.Errorf("fallback window = %v, want 1h", got)
	}
}

func TestConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PLUSBOT_CONFIG", "")

	if got, want := ConfigPath(), filepath.Join(tmpDir, ".plusbot", "config.json"); got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}

	t.Setenv("PLUSBOT_CONFIG", "/etc/plusbot.yaml")
	if got := ConfigPath(); got != "/etc/plusbot.yaml" {
		t.Errorf("ConfigPath = %q, want override", got)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("PLUSBOT_CONFIG", filepath.Join(tmpDir, "missing.json"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Bot.Name != DefaultBotName {
		t.Errorf("expected default bot name, got %q", cfg.Bot.Name)
	}
	if !strings.HasPrefix(cfg.Store.DBPath, tmpDir) {
		t.Errorf("dbPath = %q, want under %q", cfg.Store.DBPath, tmpDir)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	t.Setenv("PLUSBOT_CONFIG", path)

	data := `{
  "bot": {"name": "duckbot", "leaderboardSize": 5},
  "quota": {"backend": "memory", "window": "10m", "limit": 3},
  "store": {"backend": "memory"},
  "channels": {"slack": {"enabled": true, "botToken": "xoxb-1", "appToken": "xapp-1"}},
  "gateway": {"port": 9999}
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Bot.Name != "duckbot" || cfg.Bot.LeaderboardSize != 5 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.Quota.Limit != 3 || cfg.Quota.WindowDuration() != 10*time.Minute {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("store backend = %q", cfg.Store.Backend)
	}
	if !cfg.Channels.Slack.Enabled || cfg.Channels.Slack.AppToken != "xapp-1" {
		t.Errorf("slack = %+v", cfg.Channels.Slack)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Gateway.Port)
	}
	// Unset sections keep their defaults.
	if cfg.Gateway.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", cfg.Gateway.Workers, DefaultWorkers)
	}
	if len(cfg.Commands) != len(DefaultCommands()) {
		t.Errorf("commands = %d, want defaults", len(cfg.Commands))
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	t.Setenv("PLUSBOT_CONFIG", path)

	data := `
bot:
  name: yamlbot
store:
  backend: memory
commands:
  - keyword: help
    action: help
  - keyword: top
    action: leaderboard
canned:
  - pattern: "(?i)honk"
    reply: "Honk!"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Bot.Name != "yamlbot" {
		t.Errorf("bot name = %q", cfg.Bot.Name)
	}
	if len(cfg.Commands) != 2 || cfg.Commands[1].Keyword != "top" {
		t.Errorf("commands = %+v", cfg.Commands)
	}
	if len(cfg.Canned) != 1 || cfg.Canned[0].Reply != "Honk!" {
		t.Errorf("canned = %+v", cfg.Canned)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("PLUSBOT_CONFIG", filepath.Join(tmpDir, "config.json"))
	t.Setenv("PLUSBOT_BOT_NAME", "envbot")
	t.Setenv("PLUSBOT_QUOTA_LIMIT", "4")
	t.Setenv("PLUSBOT_STORE_BACKEND", "memory")
	t.Setenv("PLUSBOT_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("PLUSBOT_TELEGRAM_ALLOW_FROM", "1,2")
	t.Setenv("PLUSBOT_GATEWAY_WORKERS", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Bot.Name != "envbot" {
		t.Errorf("bot name = %q, want envbot", cfg.Bot.Name)
	}
	if cfg.Quota.Limit != 4 {
		t.Errorf("quota limit = %d, want 4", cfg.Quota.Limit)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("store backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Errorf("allowFrom = %v", cfg.Channels.Telegram.AllowFrom)
	}
	if cfg.Gateway.Workers != 3 {
		t.Errorf("workers = %d, want 3", cfg.Gateway.Workers)
	}
}

func TestLoadConfig_EnvPriority(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	t.Setenv("PLUSBOT_CONFIG", path)
	os.WriteFile(path, []byte(`{"bot": {"name": "filebot"}, "store": {"backend": "memory"}}`), 0644)

	t.Setenv("PLUSBOT_BOT_NAME", "envbot")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bot.Name != "envbot" {
		t.Errorf("env should override file, got %q", cfg.Bot.Name)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	t.Setenv("PLUSBOT_CONFIG", path)
	os.WriteFile(path, []byte("{invalid json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	t.Setenv("PLUSBOT_CONFIG", path)
	os.WriteFile(path, []byte(`{"store": {"backend": "postgres"}}`), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for unknown store backend")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown quota backend", func(c *Config) { c.Quota.Backend = "sqlite" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = BackendRedis }},
		{"bad window", func(c *Config) { c.Quota.Window = "soon" }},
		{"negative limit", func(c *Config) { c.Quota.Limit = -1 }},
		{"inverted random range", func(c *Config) { c.Random.Random = RangeConfig{Min: 3, Max: 1} }},
		{"inverted extreme range", func(c *Config) { c.Random.Extreme = RangeConfig{Min: 3, Max: 1} }},
		{"empty keyword", func(c *Config) { c.Commands = []CommandConfig{{Keyword: " ", Action: "help"}} }},
		{"bad canned pattern", func(c *Config) { c.Canned = []CannedConfig{{Pattern: "(["}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Store.Backend = BackendRedis
	cfg.Redis.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Errorf("redis with addr should validate: %v", err)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sub", "config.json")
	t.Setenv("PLUSBOT_CONFIG", path)

	cfg := DefaultConfig()
	cfg.Bot.Name = "savedbot"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loaded.Bot.Name != "savedbot" {
		t.Errorf("saved bot name = %q", loaded.Bot.Name)
	}
}

func TestSaveConfig_YAMLRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("PLUSBOT_CONFIG", filepath.Join(tmpDir, "config.yml"))

	cfg := DefaultConfig()
	cfg.Bot.Name = "yamlsaved"
	cfg.Store.Backend = BackendMemory
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Bot.Name != "yamlsaved" || loaded.Store.Backend != BackendMemory {
		t.Errorf("loaded = %+v", loaded.Bot)
	}
}
