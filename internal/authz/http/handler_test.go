package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/authz"
	_ "github.com/wardenhq/warden/testing"
)

// fakeStore backs the service with in-memory permission rows plus the
// resource and group directories.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	perms     map[string]authz.Permission
	resources map[string]int64
	names     map[int64]string
	groups    map[int64][]int64
	members   map[int64][]int64
	failReads error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		perms:     make(map[string]authz.Permission),
		resources: make(map[string]int64),
		names:     make(map[int64]string),
		groups:    make(map[int64][]int64),
		members:   make(map[int64][]int64),
	}
}

func (f *fakeStore) addResource(identifier string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.resources[identifier] = f.nextID
	f.names[f.nextID] = identifier
	return f.nextID
}

func key(p authz.PrincipalRef, resourceID int64) string {
	return fmt.Sprintf("%s:%d:%d", p.Kind, p.ID, resourceID)
}

func (f *fakeStore) Upsert(_ context.Context, p authz.PrincipalRef, resourceID int64, caps authz.Capabilities) (authz.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(p, resourceID)
	if existing, ok := f.perms[k]; ok {
		existing.Capabilities = existing.Capabilities.Merge(caps)
		f.perms[k] = existing
		return existing, nil
	}
	f.nextID++
	perm := authz.Permission{ID: f.nextID, Principal: p, ResourceID: resourceID, ResourceIdentifier: f.names[resourceID], Capabilities: caps}
	f.perms[k] = perm
	return perm, nil
}

func (f *fakeStore) Replace(_ context.Context, p authz.PrincipalRef, resourceID int64, caps authz.Capabilities) (authz.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(p, resourceID)
	perm, ok := f.perms[k]
	if !ok {
		f.nextID++
		perm = authz.Permission{ID: f.nextID, Principal: p, ResourceID: resourceID, ResourceIdentifier: f.names[resourceID]}
	}
	perm.Capabilities = caps
	f.perms[k] = perm
	return perm, nil
}

func (f *fakeStore) Revoke(_ context.Context, p authz.PrincipalRef, resourceID int64, actions []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(p, resourceID)
	perm, ok := f.perms[k]
	if !ok {
		return false, nil
	}
	if len(actions) == 0 {
		delete(f.perms, k)
		return true, nil
	}
	cleared := perm.Capabilities.Clear(actions)
	changed := len(cleared.List()) != len(perm.Capabilities.List())
	perm.Capabilities = cleared
	f.perms[k] = perm
	return changed, nil
}

func (f *fakeStore) Find(_ context.Context, p authz.PrincipalRef, resourceID int64) (authz.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perm, ok := f.perms[key(p, resourceID)]
	if !ok {
		return authz.Permission{}, authz.ErrPermissionNotFound
	}
	return perm, nil
}

func (f *fakeStore) ListDirect(_ context.Context, p authz.PrincipalRef) ([]authz.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	var out []authz.Permission
	for _, perm := range f.perms {
		if perm.Principal == p {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (f *fakeStore) ListForGroups(_ context.Context, groupIDs []int64) ([]authz.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	var out []authz.Permission
	for _, groupID := range groupIDs {
		for _, perm := range f.perms {
			if perm.Principal.Kind == authz.KindGroup && perm.Principal.ID == groupID {
				out = append(out, perm)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeAllForResource(_ context.Context, resourceID int64) ([]authz.PrincipalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var affected []authz.PrincipalRef
	for k, perm := range f.perms {
		if perm.ResourceID == resourceID {
			affected = append(affected, perm.Principal)
			delete(f.perms, k)
		}
	}
	return affected, nil
}

func (f *fakeStore) ResourceID(_ context.Context, identifier string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resources[identifier]
	if !ok {
		return 0, authz.ErrResourceNotFound
	}
	return id, nil
}

func (f *fakeStore) Identifiers(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.resources))
	for identifier := range f.resources {
		out = append(out, identifier)
	}
	return out, nil
}

func (f *fakeStore) GroupsOf(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.groups[userID]...), nil
}

func (f *fakeStore) MembersOf(_ context.Context, groupID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.members[groupID]...), nil
}

func newTestServer(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := authz.NewResolver(store, store)
	cache := authz.NewCache(client, resolver, store, authz.CacheConfig{Enabled: true}, logger, nil)
	service := authz.NewService(store, store, cache, nil, logger)

	handler := NewHandler(logger, service, nil)
	router := chi.NewRouter()
	router.Route("/v1", handler.MountRoutes)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return store, server
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestGrantThenCheck(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("sales_orders")

	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"user","id":1},"resource":"sales_orders","actions":["read","approve"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":1},"resource":"sales_orders","action":"approve"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check struct {
		Allowed bool `json:"allowed"`
	}
	decodeBody(t, resp, &check)
	require.True(t, check.Allowed)

	resp = postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":1},"resource":"sales_orders","action":"delete"}`)
	decodeBody(t, resp, &check)
	require.False(t, check.Allowed)
}

func TestGrantUnknownResourceIs404(t *testing.T) {
	_, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"user","id":1},"resource":"ghost","actions":["read"]}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckValidation(t *testing.T) {
	_, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/check", `{"principal":{"kind":"robot","id":1},"resource":"x","action":"read"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, server.URL+"/v1/check", `{not json`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckAnyAndAll(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("reports")

	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"user","id":4},"resource":"reports","actions":["read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var check struct {
		Allowed bool `json:"allowed"`
	}
	resp = postJSON(t, server.URL+"/v1/check-any",
		`{"principal":{"kind":"user","id":4},"resource":"reports","actions":["read","print"]}`)
	decodeBody(t, resp, &check)
	require.True(t, check.Allowed)

	resp = postJSON(t, server.URL+"/v1/check-all",
		`{"principal":{"kind":"user","id":4},"resource":"reports","actions":["read","print"]}`)
	decodeBody(t, resp, &check)
	require.False(t, check.Allowed)
}

func TestCheckFailsClosedWithProblem(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("reports")
	store.failReads = fmt.Errorf("connection refused")

	resp := postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":4},"resource":"reports","action":"read"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRevokeAndSync(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("invoices")

	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"user","id":2},"resource":"invoices","actions":["read","update","print"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/v1/permissions",
		strings.NewReader(`{"principal":{"kind":"user","id":2},"resource":"invoices","actions":["print"]}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var revoke struct {
		Changed bool `json:"changed"`
	}
	decodeBody(t, resp, &revoke)
	require.True(t, revoke.Changed)

	resp = postJSON(t, server.URL+"/v1/permissions/sync",
		`{"principal":{"kind":"user","id":2},"resource":"invoices","actions":["read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var check struct {
		Allowed bool `json:"allowed"`
	}
	resp = postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":2},"resource":"invoices","action":"update"}`)
	decodeBody(t, resp, &check)
	require.False(t, check.Allowed)
}

func TestCopyPermissions(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("invoices")
	store.addResource("reports")

	for _, body := range []string{
		`{"principal":{"kind":"user","id":7},"resource":"invoices","actions":["read"]}`,
		`{"principal":{"kind":"user","id":7},"resource":"reports","actions":["read","print"]}`,
	} {
		resp := postJSON(t, server.URL+"/v1/permissions", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, server.URL+"/v1/permissions/copy",
		`{"source":{"kind":"user","id":7},"target":{"kind":"user","id":8},"resources":["reports"]}`)
	var copied struct {
		Copied int `json:"copied"`
	}
	decodeBody(t, resp, &copied)
	require.Equal(t, 1, copied.Copied)

	var check struct {
		Allowed bool `json:"allowed"`
	}
	resp = postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":8},"resource":"reports","action":"print"}`)
	decodeBody(t, resp, &check)
	require.True(t, check.Allowed)

	resp = postJSON(t, server.URL+"/v1/check",
		`{"principal":{"kind":"user","id":8},"resource":"invoices","action":"read"}`)
	decodeBody(t, resp, &check)
	require.False(t, check.Allowed)
}

func TestEffectiveEndpoint(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("invoices")
	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"user","id":3},"resource":"invoices","actions":["read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/principals/user/3/permissions")
	require.NoError(t, err)
	var effective struct {
		Permissions map[string]authz.Capabilities `json:"permissions"`
	}
	decodeBody(t, resp, &effective)
	require.True(t, effective.Permissions["invoices"].Read)

	resp, err = http.Get(server.URL + "/v1/principals/robot/3/permissions")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMatrixEndpoint(t *testing.T) {
	store, server := newTestServer(t)
	store.addResource("invoices")
	resp := postJSON(t, server.URL+"/v1/permissions",
		`{"principal":{"kind":"group","id":5},"resource":"invoices","actions":["read"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/matrix?principal=group:5&principal=user:9")
	require.NoError(t, err)
	var matrix struct {
		Rows []struct {
			Principal   authz.PrincipalRef            `json:"principal"`
			Permissions map[string]authz.Capabilities `json:"permissions"`
		} `json:"rows"`
	}
	decodeBody(t, resp, &matrix)
	require.Len(t, matrix.Rows, 2)
	require.True(t, matrix.Rows[0].Permissions["invoices"].Read)
	require.Empty(t, matrix.Rows[1].Permissions)

	resp, err = http.Get(server.URL + "/v1/matrix")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
