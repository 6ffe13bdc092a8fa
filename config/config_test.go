package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestLoad_FileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskpilot.yaml")
	body := `
server:
  addr: ":8080"
store:
  driver: memory
provider:
  kind: mock
agent:
  model_timeout: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Agent.ModelTimeout != 5*time.Second {
		t.Errorf("model_timeout = %v, want 5s", cfg.Agent.ModelTimeout)
	}
	if cfg.Agent.MaxSteps != 20 {
		t.Errorf("max_steps = %d, want default 20", cfg.Agent.MaxSteps)
	}
	if cfg.Timezone != "Asia/Kolkata" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"JWT_SECRET":          "s3cret",
		"OPENROUTER_API_KEY":  "or-key",
		"DATABASE_URL":        "postgres://localhost/tasks",
		"TASKPILOT_MAX_STEPS": "5",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Provider.APIKey != "or-key" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Store.DSN != "postgres://localhost/tasks" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Agent.MaxSteps != 5 {
		t.Errorf("max steps = %d, want 5", cfg.Agent.MaxSteps)
	}

	env["TASKPILOT_MAX_STEPS"] = "many"
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric max steps")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults with key", func(c *Config) { c.Provider.APIKey = "k" }, ""},
		{"mock needs no key", func(c *Config) { c.Provider.Kind = "mock" }, ""},
		{"missing key", func(c *Config) {}, "provider.api_key"},
		{"bad driver", func(c *Config) { c.Provider.Kind = "mock"; c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Provider.Kind = "mock"; c.Store.Driver = "postgres"; c.Store.DSN = "" }, "store.dsn"},
		{"zero steps", func(c *Config) { c.Provider.Kind = "mock"; c.Agent.MaxSteps = 0 }, "max_steps"},
		{"bad level", func(c *Config) { c.Provider.Kind = "mock"; c.Log.Level = "loud" }, "log.level"},
		{"bad timezone", func(c *Config) { c.Provider.Kind = "mock"; c.Timezone = "Mars/Base" }, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
