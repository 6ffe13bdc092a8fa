package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolver keeps subject to owner id mappings in Redis so most
// requests skip the directory lookup. Redis failures fall through to the
// directory.
type CachedResolver struct {
	next   Resolver
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedResolver wraps next with a Redis cache.
func NewCachedResolver(next Resolver, client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{next: next, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Resolve checks Redis first, then the wrapped resolver, priming the cache on a hit.
func (c *CachedResolver) Resolve(ctx context.Context, externalID string) (string, error) {
	key := c.prefix + externalID
	id, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("identity: cache get failed", "error", err)
	}

	id, err = c.next.Resolve(ctx, externalID)
	if err != nil {
		return "", err
	}
	if err := c.Prime(ctx, externalID, id); err != nil {
		c.logger.Warn("identity: cache set failed", "error", err)
	}
	return id, nil
}

// Prime stores a known mapping, for example right after provisioning.
func (c *CachedResolver) Prime(ctx context.Context, externalID, ownerID string) error {
	if err := c.client.Set(ctx, c.prefix+externalID, ownerID, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Forget drops a cached mapping.
func (c *CachedResolver) Forget(ctx context.Context, externalID string) error {
	return c.client.Del(ctx, c.prefix+externalID).Err()
}
