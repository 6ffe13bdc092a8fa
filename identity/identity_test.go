package identity

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func newTestSQLiteDirectory(t *testing.T) *SQLiteDirectory {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	dir, err := NewSQLiteDirectory(db)
	if err != nil {
		t.Fatalf("NewSQLiteDirectory: %v", err)
	}
	return dir
}

func TestDirectory_UpsertAndResolve(t *testing.T) {
	dirs := map[string]Directory{
		"memory": NewMemoryDirectory(),
		"sqlite": newTestSQLiteDirectory(t),
	}
	for name, dir := range dirs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := dir.Resolve(ctx, "ext-1"); !errors.Is(err, ErrUnknownUser) {
				t.Fatalf("Resolve before upsert: err = %v, want ErrUnknownUser", err)
			}

			first, err := dir.Upsert(ctx, Profile{ExternalID: "ext-1", Email: " Ada@Example.COM "})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if first.Email != "ada@example.com" {
				t.Errorf("Email = %q, want lowercased", first.Email)
			}

			name := "Ada Lovelace"
			second, err := dir.Upsert(ctx, Profile{ExternalID: "ext-1", Email: "ada@new.example", Name: &name})
			if err != nil {
				t.Fatalf("second Upsert: %v", err)
			}
			if second.ID != first.ID {
				t.Errorf("ID changed on upsert: %q -> %q", first.ID, second.ID)
			}
			if second.Name == nil || *second.Name != name {
				t.Errorf("Name = %v, want %q", second.Name, name)
			}

			id, err := dir.Resolve(ctx, "ext-1")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if id != first.ID {
				t.Errorf("Resolve = %q, want %q", id, first.ID)
			}
		})
	}
}

func TestOwner(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()
	u, err := dir.Upsert(ctx, Profile{ExternalID: "ext-9", Email: "x@example.com"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := Owner(ctx, dir); !errors.Is(err, ErrNoSubject) {
		t.Errorf("Owner without subject: err = %v, want ErrNoSubject", err)
	}
	if _, err := Owner(WithSubject(ctx, "nobody"), dir); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Owner unknown: err = %v, want ErrUnknownUser", err)
	}
	got, err := Owner(WithSubject(ctx, "ext-9"), dir)
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if got != u.ID {
		t.Errorf("Owner = %q, want %q", got, u.ID)
	}
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("test-secret", "taskpilot")
	token, err := v.Issue("user_123", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "user_123" {
		t.Errorf("subject = %q, want user_123", sub)
	}

	if _, err := NewTokenVerifier("other-secret", "taskpilot").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v, want ErrInvalidToken", err)
	}
	if _, err := NewTokenVerifier("test-secret", "someone-else").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer: err = %v, want ErrInvalidToken", err)
	}

	expired, err := v.Issue("user_123", "", -time.Minute)
	if err != nil {
		t.Fatalf("Issue expired: %v", err)
	}
	if _, err := v.Verify(expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: err = %v, want ErrTokenExpired", err)
	}
	if _, err := v.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v, want ErrInvalidToken", err)
	}
}

func TestWebhookVerifier(t *testing.T) {
	v, err := NewWebhookVerifier("whsec_dGVzdC13ZWJob29rLXNlY3JldA==")
	if err != nil {
		t.Fatalf("NewWebhookVerifier: %v", err)
	}
	now := time.Unix(1_800_000_000, 0)
	v.now = func() time.Time { return now }

	body := []byte(`{"type":"user.created"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := v.Sign("msg_1", ts, body)

	if err := v.Verify("msg_1", ts, "v1,bogus "+sig, body); err != nil {
		t.Errorf("Verify valid: %v", err)
	}
	if err := v.Verify("", ts, sig, body); !errors.Is(err, ErrMissingHeaders) {
		t.Errorf("missing id: err = %v, want ErrMissingHeaders", err)
	}
	if err := v.Verify("msg_1", ts, sig, []byte(`{"type":"tampered"}`)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered body: err = %v, want ErrBadSignature", err)
	}
	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if err := v.Verify("msg_1", old, v.Sign("msg_1", old, body), body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("stale timestamp: err = %v, want ErrBadSignature", err)
	}
}

func TestUserEvent_Profile(t *testing.T) {
	body := []byte(`{
		"type": "user.created",
		"data": {
			"id": "user_abc",
			"primary_email_address_id": "idn_2",
			"email_addresses": [
				{"id": "idn_1", "email_address": "first@example.com"},
				{"id": "idn_2", "email_address": "Primary@Example.com"}
			],
			"first_name": "Grace",
			"last_name": ""
		}
	}`)
	evt, err := ParseUserEvent(body)
	if err != nil {
		t.Fatalf("ParseUserEvent: %v", err)
	}
	p := evt.Profile()
	if p.ExternalID != "user_abc" {
		t.Errorf("ExternalID = %q", p.ExternalID)
	}
	if p.Email != "primary@example.com" {
		t.Errorf("Email = %q, want primary@example.com", p.Email)
	}
	if p.Name == nil || *p.Name != "Grace" {
		t.Errorf("Name = %v, want Grace", p.Name)
	}

	evt.Data.FirstName = ""
	evt.Data.Username = "gh"
	if p := evt.Profile(); p.Name == nil || *p.Name != "gh" {
		t.Errorf("username fallback = %v, want gh", p.Name)
	}
}

func TestCachedResolver(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })

	dir := NewMemoryDirectory()
	u, err := dir.Upsert(ctx, Profile{ExternalID: "ext-cache", Email: "c@example.com"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	cached := NewCachedResolver(dir, client, "test:identity:", time.Minute, nil)
	t.Cleanup(func() { cached.Forget(ctx, "ext-cache") })

	id, err := cached.Resolve(ctx, "ext-cache")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != u.ID {
		t.Errorf("Resolve = %q, want %q", id, u.ID)
	}
	got, err := client.Get(ctx, "test:identity:ext-cache").Result()
	if err != nil {
		t.Fatalf("cache key missing: %v", err)
	}
	if got != u.ID {
		t.Errorf("cached value = %q, want %q", got, u.ID)
	}
	if _, err := cached.Resolve(ctx, "unknown"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown: err = %v, want ErrUnknownUser", err)
	}
}
