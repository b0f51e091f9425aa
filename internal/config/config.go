package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for relaybot.
type Config struct {
	General       GeneralConfig       `json:"general"`
	Channels      ChannelsConfig      `json:"channels"`
	Transcription TranscriptionConfig `json:"transcription"`
	Store         StoreConfig         `json:"store"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type GeneralConfig struct {
	AssistantName  string `json:"assistantName"  env:"ASSISTANT_NAME"`
	TriggerPattern string `json:"triggerPattern" env:"TRIGGER_PATTERN"` // default: ^@<assistantName>\b, case-insensitive
	LogLevel       string `json:"logLevel"       env:"LOG_LEVEL"`
	LogFormat      string `json:"logFormat"      env:"LOG_FORMAT"` // "text" | "json"
	LogFile        string `json:"logFile"        env:"LOG_FILE"`   // optional log file path
	DataDir        string `json:"dataDir"        env:"DATA_DIR"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled          bool   `json:"enabled"          env:"TELEGRAM_ENABLED"`
	Token            string `json:"token"            env:"TELEGRAM_TOKEN"`
	ParseMode        string `json:"parseMode"        env:"TELEGRAM_PARSE_MODE"`
	MaxMessageLength int    `json:"maxMessageLength" env:"TELEGRAM_MAX_MESSAGE_LENGTH"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" env:"DISCORD_ENABLED"`
	Token   string `json:"token"   env:"DISCORD_TOKEN"`
	GuildID string `json:"guildId" env:"DISCORD_GUILD_ID"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"  env:"SLACK_ENABLED"`
	BotToken string `json:"botToken" env:"SLACK_BOT_TOKEN"`
	AppToken string `json:"appToken" env:"SLACK_APP_TOKEN"` // required for Socket Mode
}

// TranscriptionConfig configures the Whisper-compatible speech-to-text endpoint.
type TranscriptionConfig struct {
	Enabled        bool   `json:"enabled"        env:"TRANSCRIPTION_ENABLED"`
	APIBase        string `json:"apiBase"        env:"TRANSCRIPTION_API_BASE"`
	APIKey         string `json:"apiKey"         env:"TRANSCRIPTION_API_KEY"`
	Model          string `json:"model"          env:"TRANSCRIPTION_MODEL"`
	UsageModel     string `json:"usageModel"     env:"TRANSCRIPTION_USAGE_MODEL"` // model name written to the usage ledger
	Language       string `json:"language"       env:"TRANSCRIPTION_LANGUAGE"`
	TimeoutSeconds int    `json:"timeoutSeconds" env:"TRANSCRIPTION_TIMEOUT_SECONDS"`
	MaxRetries     int    `json:"maxRetries"     env:"TRANSCRIPTION_MAX_RETRIES"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath" env:"STORE_DB_PATH"`
}

// MetricsConfig configures the Prometheus text endpoint served by the gateway.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"  env:"METRICS_ENABLED"`
	Listen   string `json:"listen"   env:"METRICS_LISTEN"`
	Endpoint string `json:"endpoint" env:"METRICS_ENDPOINT"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the JSON config at path, expands ${VAR} references, applies
// RELAYBOT_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns env-adjusted defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
		cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
		cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// Tokens live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.General.AssistantName) == "" {
		errs = append(errs, "general.assistantName is required")
	}
	if cfg.General.TriggerPattern != "" {
		if _, err := regexp.Compile(cfg.General.TriggerPattern); err != nil {
			errs = append(errs, fmt.Sprintf("general.triggerPattern does not compile: %v", err))
		}
	}
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	tg := cfg.Channels.Telegram
	if tg.Enabled && tg.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	switch tg.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
	default:
		errs = append(errs, "channels.telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}
	if tg.MaxMessageLength < 0 || tg.MaxMessageLength > 4096 {
		errs = append(errs, "channels.telegram.maxMessageLength must be between 0 and 4096")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if sl := cfg.Channels.Slack; sl.Enabled && (sl.BotToken == "" || sl.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and channels.slack.appToken are required when slack is enabled")
	}

	tr := cfg.Transcription
	if tr.Enabled && tr.APIBase == "" {
		errs = append(errs, "transcription.apiBase is required when transcription is enabled")
	}
	if tr.TimeoutSeconds < 1 {
		errs = append(errs, "transcription.timeoutSeconds must be >= 1")
	}
	if tr.MaxRetries < 0 || tr.MaxRetries > 10 {
		errs = append(errs, "transcription.maxRetries must be between 0 and 10")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// EnabledChannels lists the enabled channel names.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	return names
}
