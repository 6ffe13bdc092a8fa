// Command taskpilotd is the taskpilot server daemon. It serves the task API
// and the assistant chat endpoint from a YAML config plus environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/GoCodeAlone/taskpilot/agent"
	"github.com/GoCodeAlone/taskpilot/config"
	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/internal/version"
	"github.com/GoCodeAlone/taskpilot/server"
	"github.com/GoCodeAlone/taskpilot/server/api"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/tools"
)

var (
	configPath = flag.String("config", os.Getenv("TASKPILOT_CONFIG"), "path to YAML config file")
	issueToken = flag.String("issue-token", "", "print a bearer token for this subject and exit")
	tokenTTL   = flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *issueToken != "" {
		if cfg.Auth.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required to issue tokens")
		}
		tok, err := identity.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(*issueToken, "", *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config:\n%v", err)
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger.Info("starting taskpilotd",
		"version", version.Version,
		"commit", version.Commit,
		"store", cfg.Store.Driver,
		"provider", cfg.Provider.Kind,
	)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("Failed to load timezone %s: %v", cfg.Timezone, err)
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	prov, err := newProvider(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to configure provider: %v", err)
	}

	svc := service.New(st.tasks, st.resolver, logger)
	reg, err := tools.NewDefault(svc, tools.NewClock(loc), cfg.Agent.ToolTimeout, logger)
	if err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}
	runtime := agent.NewRuntime(agent.Config{
		Provider:     prov,
		Tools:        reg,
		MaxSteps:     cfg.Agent.MaxSteps,
		ModelTimeout: cfg.Agent.ModelTimeout,
		Location:     loc,
		Logger:       logger,
	})

	h := &api.Handlers{
		Tasks:   svc,
		Chat:    runtime,
		Limiter: newLimiter(cfg.Cache, st.redis),
		Users:   st.users,
		Logger:  logger,
		Version: version.Version,
	}
	if st.cache != nil {
		h.Cache = st.cache
	}
	if cfg.Auth.WebhookSecret != "" {
		wh, err := identity.NewWebhookVerifier(cfg.Auth.WebhookSecret)
		if err != nil {
			log.Fatalf("Invalid webhook secret: %v", err)
		}
		h.Webhook = wh
	}

	srv := server.New(*cfg, h, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	fmt.Printf("taskpilot server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"taskpilotd": func(ctx context.Context) error {
			logger.Info("shutting down")
			if err := srv.Stop(ctx); err != nil {
				logger.Error("server stop error", "error", err)
			}
			return st.Close()
		},
	})
	os.Exit(<-wait)
}
