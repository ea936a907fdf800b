package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/authz"
)

func TestResolveDirectOnly(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(1)
	_, err := store.Upsert(context.Background(), user, orders, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)

	resolver := authz.NewResolver(store, store)
	resolved, err := resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	require.True(t, resolved.Allows("orders", "read"))
	require.False(t, resolved.Allows("orders", "delete"))
}

func TestResolveMergesGroupGrants(t *testing.T) {
	store := newMemoryStore()
	orders := store.addResource("orders")
	user := authz.User(7)
	group := authz.Group(3)
	store.addMembership(7, 3)

	ctx := context.Background()
	_, err := store.Upsert(ctx, group, orders, authz.CapabilitiesFromList([]string{"create", "read"}))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, user, orders, authz.CapabilitiesFromList([]string{"delete"}))
	require.NoError(t, err)

	resolver := authz.NewResolver(store, store)
	resolved, err := resolver.Resolve(ctx, user)
	require.NoError(t, err)
	require.True(t, resolved.Allows("orders", "create"))
	require.True(t, resolved.Allows("orders", "delete"))
	require.False(t, resolved.Allows("orders", "update"))
}

func TestResolveGroupOrderIndependent(t *testing.T) {
	buildStore := func(groupOrder []int64) *memoryStore {
		store := newMemoryStore()
		invoices := store.addResource("invoices")
		ctx := context.Background()
		_, _ = store.Upsert(ctx, authz.Group(1), invoices, authz.CapabilitiesFromList([]string{"read", "export"}))
		_, _ = store.Upsert(ctx, authz.Group(2), invoices, authz.CapabilitiesFromList([]string{"update", "approve"}))
		store.mu.Lock()
		store.groups[5] = groupOrder
		store.mu.Unlock()
		return store
	}

	forward := buildStore([]int64{1, 2})
	backward := buildStore([]int64{2, 1})

	a, err := authz.NewResolver(forward, forward).Resolve(context.Background(), authz.User(5))
	require.NoError(t, err)
	b, err := authz.NewResolver(backward, backward).Resolve(context.Background(), authz.User(5))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestResolveGroupPrincipalSkipsMembership(t *testing.T) {
	store := newMemoryStore()
	reports := store.addResource("reports")
	group := authz.Group(9)
	_, err := store.Upsert(context.Background(), group, reports, authz.CapabilitiesFromList([]string{"read"}))
	require.NoError(t, err)

	resolver := authz.NewResolver(store, store)
	resolved, err := resolver.Resolve(context.Background(), group)
	require.NoError(t, err)
	require.True(t, resolved.Allows("reports", "read"))
}

func TestResolveNoGrantsReturnsEmptyMap(t *testing.T) {
	store := newMemoryStore()
	resolver := authz.NewResolver(store, store)
	resolved, err := resolver.Resolve(context.Background(), authz.User(99))
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestResolveStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.failReads = errStoreDown
	resolver := authz.NewResolver(store, store)
	_, err := resolver.Resolve(context.Background(), authz.User(1))
	require.ErrorIs(t, err, authz.ErrResolutionFailed)
	require.ErrorIs(t, err, errStoreDown)
}
