package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/authz"
)

func newTestCache(t *testing.T, store *memoryStore, cfg authz.CacheConfig) (*authz.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	resolver := authz.NewResolver(store, store)
	return authz.NewCache(client, resolver, store, cfg, nil, nil), mr
}

func TestCachePopulatesOnMiss(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	_, err := store.Upsert(context.Background(), user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)

	cache, _ := newTestCache(t, store, authz.CacheConfig{Enabled: true})
	perms, err := cache.Get(context.Background(), user)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))

	// A subsequent mutation without invalidation is served stale: the
	// value must have come from the cache, not the resolver.
	_, err = store.Upsert(context.Background(), user, orders, authz.CapabilitiesFromList([]string{"delete"}))
	require.NoError(t, err)
	perms, err = cache.Get(context.Background(), user)
	require.NoError(t, err)
	require.False(t, perms.Allows("orders", "delete"))
}

func TestCacheInvalidateForcesRecompute(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	ctx := context.Background()

	cache, _ := newTestCache(t, store, authz.CacheConfig{Enabled: true})
	perms, err := cache.Get(ctx, user)
	require.NoError(t, err)
	require.False(t, perms.Allows("orders", "read"))

	_, err = store.Upsert(ctx, user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, user))

	perms, err = cache.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))
}

func TestCacheTTLExpiry(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	ctx := context.Background()

	cache, mr := newTestCache(t, store, authz.CacheConfig{Enabled: true, TTL: time.Minute})
	_, err := cache.Get(ctx, user)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)

	// Within the TTL the stale entry still answers.
	perms, err := cache.Get(ctx, user)
	require.NoError(t, err)
	require.False(t, perms.Allows("orders", "read"))

	mr.FastForward(2 * time.Minute)

	perms, err = cache.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))
}

func TestCacheDisabledBypassesStorage(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	ctx := context.Background()

	cache, mr := newTestCache(t, store, authz.CacheConfig{Enabled: false})
	_, err := cache.Get(ctx, user)
	require.NoError(t, err)
	require.Empty(t, mr.Keys())

	// Every read reflects the store immediately.
	_, err = store.Upsert(ctx, user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)
	perms, err := cache.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))
}

func TestCacheInvalidateGroupCoversMembers(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	group := authz.Group(4)
	member := authz.User(10)
	store.addMembership(10, 4)
	ctx := context.Background()

	cache, _ := newTestCache(t, store, authz.CacheConfig{Enabled: true})
	perms, err := cache.Get(ctx, member)
	require.NoError(t, err)
	require.False(t, perms.Allows("orders", "read"))

	_, err = store.Upsert(ctx, group, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateGroup(ctx, 4))

	perms, err = cache.Get(ctx, member)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))
}

func TestCacheBackendDownFallsThrough(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	ctx := context.Background()
	_, err := store.Upsert(ctx, user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)

	cache, mr := newTestCache(t, store, authz.CacheConfig{Enabled: true})
	mr.Close()

	perms, err := cache.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, perms.Allows("orders", "read"))
}

func TestCacheFlushAll(t *testing.T) {
	store := newMemoryStore()
	store.addResource("orders")
	ctx := context.Background()

	cache, mr := newTestCache(t, store, authz.CacheConfig{Enabled: true})
	_, err := cache.Get(ctx, authz.User(1))
	require.NoError(t, err)
	_, err = cache.Get(ctx, authz.User(2))
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 2)

	require.NoError(t, cache.FlushAll(ctx))
	require.Empty(t, mr.Keys())
}
