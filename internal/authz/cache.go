package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL    = time.Hour
	defaultCachePrefix = "warden:perms"
)

// CacheMetrics receives cache outcome signals. All methods are called
// from request paths and must be cheap.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
	CacheInvalidation()
}

// CacheConfig tunes the permission cache.
type CacheConfig struct {
	// Enabled toggles storage entirely. When false every Get resolves
	// fresh; answers are identical, only latency changes.
	Enabled bool
	// TTL after which an entry is treated as absent. Defaults to 1h.
	TTL time.Duration
	// KeyPrefix namespaces cache keys. Defaults to "warden:perms".
	KeyPrefix string
}

// Cache memoizes resolved permission maps per principal in Redis.
// A backend failure never blocks a read: the cache degrades to direct
// resolution and logs.
type Cache struct {
	client   *redis.Client
	resolver *Resolver
	groups   GroupDirectory
	cfg      CacheConfig
	logger   *slog.Logger
	metrics  CacheMetrics
	flight   singleflight.Group
}

// NewCache constructs the permission cache. metrics may be nil.
func NewCache(client *redis.Client, resolver *Resolver, groups GroupDirectory, cfg CacheConfig, logger *slog.Logger, metrics CacheMetrics) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultCachePrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client:   client,
		resolver: resolver,
		groups:   groups,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

func (c *Cache) key(principal PrincipalRef) string {
	return fmt.Sprintf("%s:%s:%d", c.cfg.KeyPrefix, principal.Kind, principal.ID)
}

// Get returns the cached permission map for principal, resolving and
// storing it on a miss. Concurrent misses for the same principal are
// coalesced through singleflight.
func (c *Cache) Get(ctx context.Context, principal PrincipalRef) (PermissionMap, error) {
	if !c.cfg.Enabled || c.client == nil {
		return c.resolver.Resolve(ctx, principal)
	}

	key := c.key(principal)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached PermissionMap
		if uerr := json.Unmarshal(payload, &cached); uerr == nil {
			if c.metrics != nil {
				c.metrics.CacheHit()
			}
			return cached, nil
		}
		// Corrupt entry: drop it and fall through to a fresh resolve.
		c.logger.Warn("authz cache: corrupt entry", slog.String("key", key))
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("authz cache: read failed, resolving directly", slog.Any("error", err))
		return c.resolver.Resolve(ctx, principal)
	}

	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
	value, err, _ := c.flight.Do(key, func() (any, error) {
		resolved, err := c.resolver.Resolve(ctx, principal)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil, err
		}
		if serr := c.client.Set(ctx, key, raw, c.cfg.TTL).Err(); serr != nil {
			c.logger.Warn("authz cache: store failed", slog.String("key", key), slog.Any("error", serr))
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(PermissionMap), nil
}

// Invalidate drops any cached entry for principal. A backend error is
// logged and returned but must not abort the caller's write path.
func (c *Cache) Invalidate(ctx context.Context, principal PrincipalRef) error {
	if !c.cfg.Enabled || c.client == nil {
		return nil
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidation()
	}
	if err := c.client.Del(ctx, c.key(principal)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Error("authz cache: invalidate failed", slog.String("key", c.key(principal)), slog.Any("error", err))
		return err
	}
	return nil
}

// InvalidateGroup drops the group's own entry plus every current
// member's entry. Membership is read at invalidation time.
func (c *Cache) InvalidateGroup(ctx context.Context, groupID int64) error {
	if !c.cfg.Enabled || c.client == nil {
		return nil
	}
	var firstErr error
	if err := c.Invalidate(ctx, Group(groupID)); err != nil {
		firstErr = err
	}
	if c.groups == nil {
		return firstErr
	}
	members, err := c.groups.MembersOf(ctx, groupID)
	if err != nil {
		c.logger.Error("authz cache: load members for invalidation", slog.Int64("group_id", groupID), slog.Any("error", err))
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	for _, userID := range members {
		if err := c.Invalidate(ctx, User(userID)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushAll removes every cached permission map under the key prefix.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.cfg.Enabled || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.cfg.KeyPrefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
