// Package config defines the taskpilot daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level taskpilot configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Timezone string         `json:"timezone" yaml:"timezone"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig holds token and webhook secrets.
type AuthConfig struct {
	JWTSecret     string `json:"-" yaml:"jwt_secret"`
	Issuer        string `json:"issuer,omitempty" yaml:"issuer"`
	WebhookSecret string `json:"-" yaml:"webhook_secret"` // base64, optional whsec_ prefix
}

// StoreConfig selects the task and user store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite", "postgres", "memory"
	DSN    string `json:"dsn" yaml:"dsn"`
}

// CacheConfig enables the Redis identity cache when Addr is set.
type CacheConfig struct {
	Addr string        `json:"addr,omitempty" yaml:"addr"`
	TTL  time.Duration `json:"ttl" yaml:"ttl"`
	// ChatRate is the number of chat requests one user may start per minute;
	// zero disables the limit.
	ChatRate int `json:"chat_rate" yaml:"chat_rate"`
}

// ProviderConfig selects the language model backend.
type ProviderConfig struct {
	Kind      string `json:"kind" yaml:"kind"` // "openai", "anthropic", "mock"
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url"`
	Model     string `json:"model,omitempty" yaml:"model"`
	APIKey    string `json:"-" yaml:"api_key"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens"`
	// Scenario is a YAML script for the mock provider.
	Scenario string `json:"scenario,omitempty" yaml:"scenario"`
}

// AgentConfig bounds assistant turns.
type AgentConfig struct {
	MaxSteps     int           `json:"max_steps" yaml:"max_steps"`
	ModelTimeout time.Duration `json:"model_timeout" yaml:"model_timeout"`
	ToolTimeout  time.Duration `json:"tool_timeout" yaml:"tool_timeout"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./data/taskpilot.db",
		},
		Cache: CacheConfig{
			TTL:      10 * time.Minute,
			ChatRate: 20,
		},
		Provider: ProviderConfig{
			Kind:      "openai",
			BaseURL:   "https://openrouter.ai/api",
			Model:     "openai/gpt-4o-mini",
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			MaxSteps:     20,
			ModelTimeout: 60 * time.Second,
			ToolTimeout:  15 * time.Second,
		},
		Timezone: "Asia/Kolkata",
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment via lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.Server.Addr, "TASKPILOT_ADDR")
	str(&c.Auth.JWTSecret, "TASKPILOT_JWT_SECRET", "JWT_SECRET")
	str(&c.Auth.WebhookSecret, "TASKPILOT_WEBHOOK_SECRET", "WEBHOOK_SECRET")
	str(&c.Store.Driver, "TASKPILOT_STORE_DRIVER")
	str(&c.Store.DSN, "TASKPILOT_STORE_DSN", "DATABASE_URL")
	str(&c.Cache.Addr, "TASKPILOT_REDIS_ADDR", "REDIS_URL")
	str(&c.Provider.Kind, "TASKPILOT_PROVIDER")
	str(&c.Provider.Model, "TASKPILOT_MODEL")
	str(&c.Provider.BaseURL, "TASKPILOT_PROVIDER_BASE_URL")
	str(&c.Timezone, "TASKPILOT_TIMEZONE")
	str(&c.Log.Level, "TASKPILOT_LOG_LEVEL")
	str(&c.Log.Format, "TASKPILOT_LOG_FORMAT")

	if c.Provider.APIKey == "" {
		switch c.Provider.Kind {
		case "anthropic":
			str(&c.Provider.APIKey, "TASKPILOT_API_KEY", "ANTHROPIC_API_KEY")
		default:
			str(&c.Provider.APIKey, "TASKPILOT_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY")
		}
	}

	if v, ok := lookup("TASKPILOT_MAX_STEPS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKPILOT_MAX_STEPS: %w", err)
		}
		c.Agent.MaxSteps = n
	}
	if v, ok := lookup("TASKPILOT_MODEL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TASKPILOT_MODEL_TIMEOUT: %w", err)
		}
		c.Agent.ModelTimeout = d
	}
	return nil
}

// Validate reports invalid settings and combinations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be sqlite, postgres or memory", c.Store.Driver))
	}
	switch c.Provider.Kind {
	case "mock":
	case "openai", "anthropic":
		if c.Provider.APIKey == "" {
			errs = append(errs, fmt.Errorf("provider.api_key is required for provider %s", c.Provider.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q must be openai, anthropic or mock", c.Provider.Kind))
	}
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, errors.New("agent.max_steps must be at least 1"))
	}
	if c.Agent.ModelTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		errs = append(errs, errors.New("agent timeouts must be positive"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
