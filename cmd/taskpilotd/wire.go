package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/taskpilot/config"
	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/provider"
	"github.com/GoCodeAlone/taskpilot/provider/mock"
	"github.com/GoCodeAlone/taskpilot/server/ratelimit"
	"github.com/GoCodeAlone/taskpilot/task"
)

// newLogger builds the slog handler described by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// stores bundles the persistence layer chosen by config.
type stores struct {
	tasks    task.Store
	users    identity.Directory
	resolver identity.Resolver
	cache    *identity.CachedResolver
	redis    *redis.Client
}

func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.users != nil {
		errs = append(errs, s.users.Close())
	}
	if s.tasks != nil {
		errs = append(errs, s.tasks.Close())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}
	switch cfg.Store.Driver {
	case "memory":
		s.tasks = task.NewMemoryStore()
		s.users = identity.NewMemoryDirectory()
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir %s: %w", dir, err)
			}
		}
		ts, err := task.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		s.tasks = ts
		users, err := identity.NewSQLiteDirectory(ts.DB())
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		s.users = users
	case "postgres":
		ts, err := task.NewPostgresStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		s.tasks = ts
		users, err := identity.NewPostgresDirectory(ctx, ts.Pool())
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		s.users = users
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	s.resolver = s.users

	if cfg.Cache.Addr != "" {
		opts, err := redisOptions(cfg.Cache.Addr)
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, continuing without cache", "addr", cfg.Cache.Addr, "error", err)
			client.Close() //nolint:errcheck
		} else {
			s.redis = client
			s.cache = identity.NewCachedResolver(s.users, client, "taskpilot:identity:", cfg.Cache.TTL, logger)
			s.resolver = s.cache
		}
	}
	return s, nil
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

func newLimiter(cfg config.CacheConfig, client *redis.Client) ratelimit.Limiter {
	if cfg.ChatRate <= 0 {
		return nil
	}
	if client != nil {
		return ratelimit.NewRedis(client, "taskpilot:chat:", cfg.ChatRate, time.Minute)
	}
	return ratelimit.NewMemory(cfg.ChatRate, time.Minute)
}

func newProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Referer:   "https://github.com/GoCodeAlone/taskpilot",
			Title:     "taskpilot",
		}), nil
	case "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "mock":
		if cfg.Scenario == "" {
			return mock.New(), nil
		}
		sc, err := mock.LoadScenario(cfg.Scenario)
		if err != nil {
			return nil, err
		}
		return mock.FromScenario(sc), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Kind)
	}
}
