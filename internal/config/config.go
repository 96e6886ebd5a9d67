// Package config loads switchboard configuration from an optional YAML
// file plus SWITCHBOARD_* environment overrides. Environment always wins,
// so deployments can keep secrets out of the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	// node.Value covers both quoted strings and a bare 0.
	raw := node.Value
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration, or fallback when unset.
func (d Duration) Std(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// Remote configures the upstream chat API.
type Remote struct {
	BaseURL         string   `yaml:"base_url"`
	Token           string   `yaml:"-"` // env only, never from file
	OrganizationID  string   `yaml:"organization_id"`
	PerPage         int      `yaml:"per_page"`
	RatePerSecond   float64  `yaml:"rate_per_second"`
	PollTimeout Duration `yaml:"poll_timeout"`
	// ConversationTTL distinguishes "unset" (nil, engine default applies)
	// from an explicit zero, which means reuse chats indefinitely.
	ConversationTTL *Duration `yaml:"conversation_ttl"`
	DisableTTL      bool      `yaml:"disable_ttl"`
	Stream          bool      `yaml:"stream"`
}

// Store selects the conversation-state backend.
type Store struct {
	Backend string `yaml:"backend"` // memory | redis | sqlite
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
}

// LLM configures the optional routing/composition model.
type LLM struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"` // env only
	Model   string `yaml:"model"`
}

// Orchestrator tunes the caller-driven polling loop.
type Orchestrator struct {
	PollInterval    Duration `yaml:"poll_interval"`
	MaxPollInterval Duration `yaml:"max_poll_interval"`
	MaxPolls        int      `yaml:"max_polls"`
}

// Channels holds the chat-surface adapters. An adapter with an empty
// token is simply not started.
type Channels struct {
	Slack struct {
		BotToken string `yaml:"-"`
		AppToken string `yaml:"-"`
	} `yaml:"slack"`
	Telegram struct {
		Token string `yaml:"-"`
	} `yaml:"telegram"`
	Discord struct {
		Token string `yaml:"-"`
	} `yaml:"discord"`
}

// HTTP configures the admin/API listener.
type HTTP struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"-"` // env only
}

// Tracing configures the OTLP trace exporter.
type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the full switchboard configuration.
type Config struct {
	Remote       Remote       `yaml:"remote"`
	Store        Store        `yaml:"store"`
	LLM          LLM          `yaml:"llm"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Channels     Channels     `yaml:"channels"`
	HTTP         HTTP         `yaml:"http"`
	Tracing      Tracing      `yaml:"tracing"`
	MCP          struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"mcp"`
}

// Load reads path (when non-empty), applies environment overrides, fills
// defaults, and validates. A missing file is only an error when the path
// was given explicitly.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Remote.BaseURL, "SWITCHBOARD_API_URL")
	setStr(&cfg.Remote.Token, "SWITCHBOARD_API_TOKEN")
	setStr(&cfg.Remote.OrganizationID, "SWITCHBOARD_ORG_ID")
	setStr(&cfg.LLM.BaseURL, "SWITCHBOARD_LLM_URL")
	setStr(&cfg.LLM.APIKey, "SWITCHBOARD_LLM_KEY")
	setStr(&cfg.LLM.Model, "SWITCHBOARD_LLM_MODEL")
	setStr(&cfg.Store.Backend, "SWITCHBOARD_STORE")
	setStr(&cfg.Store.Redis.Addr, "SWITCHBOARD_REDIS_ADDR")
	setStr(&cfg.Store.Redis.Password, "SWITCHBOARD_REDIS_PASSWORD")
	setStr(&cfg.Store.SQLite.Path, "SWITCHBOARD_SQLITE_PATH")
	setStr(&cfg.Channels.Slack.BotToken, "SLACK_BOT_TOKEN")
	setStr(&cfg.Channels.Slack.AppToken, "SLACK_APP_TOKEN")
	setStr(&cfg.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")
	setStr(&cfg.HTTP.Addr, "SWITCHBOARD_HTTP_ADDR")
	setStr(&cfg.HTTP.Token, "SWITCHBOARD_HTTP_TOKEN")
	setStr(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v := os.Getenv("SWITCHBOARD_DISABLE_TTL"); v != "" {
		cfg.Remote.DisableTTL, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SWITCHBOARD_CONVERSATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			ttl := Duration(d)
			cfg.Remote.ConversationTTL = &ttl
		}
	}
}

func applyDefaults(cfg *Config) {
	// An explicit zero TTL means reuse chats indefinitely.
	if cfg.Remote.ConversationTTL != nil && *cfg.Remote.ConversationTTL == 0 {
		cfg.Remote.DisableTTL = true
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "switchboard.db"
	}
	if cfg.Remote.PerPage == 0 {
		cfg.Remote.PerPage = 100
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8090"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
}

func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url (or SWITCHBOARD_API_URL) is required")
	}
	if c.Remote.Token == "" {
		return fmt.Errorf("SWITCHBOARD_API_TOKEN is required")
	}
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q (want memory, redis, or sqlite)", c.Store.Backend)
	}
	return nil
}
