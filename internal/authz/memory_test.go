package authz_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wardenhq/warden/internal/authz"
)

// memoryStore is an in-memory double for the permission repository plus
// the resource and group directories.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	perms     map[string]authz.Permission
	resources map[string]int64
	names     map[int64]string
	groups    map[int64][]int64
	members   map[int64][]int64
	failReads error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		perms:     make(map[string]authz.Permission),
		resources: make(map[string]int64),
		names:     make(map[int64]string),
		groups:    make(map[int64][]int64),
		members:   make(map[int64][]int64),
	}
}

func (m *memoryStore) addResource(identifier string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.resources[identifier]; ok {
		return id
	}
	m.nextID++
	m.resources[identifier] = m.nextID
	m.names[m.nextID] = identifier
	return m.nextID
}

func (m *memoryStore) addMembership(userID, groupID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[userID] = append(m.groups[userID], groupID)
	m.members[groupID] = append(m.members[groupID], userID)
}

func permKey(p authz.PrincipalRef, resourceID int64) string {
	return fmt.Sprintf("%s:%d:%d", p.Kind, p.ID, resourceID)
}

func (m *memoryStore) Upsert(ctx context.Context, p authz.PrincipalRef, resourceID int64, caps authz.Capabilities) (authz.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := permKey(p, resourceID)
	if existing, ok := m.perms[key]; ok {
		existing.Capabilities = existing.Capabilities.Merge(caps)
		m.perms[key] = existing
		return existing, nil
	}
	m.nextID++
	perm := authz.Permission{
		ID:                 m.nextID,
		Principal:          p,
		ResourceID:         resourceID,
		ResourceIdentifier: m.names[resourceID],
		Capabilities:       caps,
	}
	m.perms[key] = perm
	return perm, nil
}

func (m *memoryStore) Replace(ctx context.Context, p authz.PrincipalRef, resourceID int64, caps authz.Capabilities) (authz.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := permKey(p, resourceID)
	perm, ok := m.perms[key]
	if !ok {
		m.nextID++
		perm = authz.Permission{ID: m.nextID, Principal: p, ResourceID: resourceID, ResourceIdentifier: m.names[resourceID]}
	}
	perm.Capabilities = caps
	m.perms[key] = perm
	return perm, nil
}

func (m *memoryStore) Revoke(ctx context.Context, p authz.PrincipalRef, resourceID int64, actions []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := permKey(p, resourceID)
	perm, ok := m.perms[key]
	if !ok {
		return false, nil
	}
	if len(actions) == 0 {
		delete(m.perms, key)
		return true, nil
	}
	cleared := perm.Capabilities.Clear(actions)
	changed := len(cleared.List()) != len(perm.Capabilities.List())
	perm.Capabilities = cleared
	m.perms[key] = perm
	return changed, nil
}

func (m *memoryStore) Find(ctx context.Context, p authz.PrincipalRef, resourceID int64) (authz.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.perms[permKey(p, resourceID)]
	if !ok {
		return authz.Permission{}, authz.ErrPermissionNotFound
	}
	return perm, nil
}

func (m *memoryStore) ListDirect(ctx context.Context, p authz.PrincipalRef) ([]authz.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	var out []authz.Permission
	for _, perm := range m.perms {
		if perm.Principal == p {
			out = append(out, perm)
		}
	}
	return out, nil
}

func (m *memoryStore) ListForGroups(ctx context.Context, groupIDs []int64) ([]authz.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	var out []authz.Permission
	for _, groupID := range groupIDs {
		for _, perm := range m.perms {
			if perm.Principal.Kind == authz.KindGroup && perm.Principal.ID == groupID {
				out = append(out, perm)
			}
		}
	}
	return out, nil
}

func (m *memoryStore) RevokeAllForResource(ctx context.Context, resourceID int64) ([]authz.PrincipalRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected []authz.PrincipalRef
	for key, perm := range m.perms {
		if perm.ResourceID == resourceID {
			affected = append(affected, perm.Principal)
			delete(m.perms, key)
		}
	}
	return affected, nil
}

func (m *memoryStore) ResourceID(ctx context.Context, identifier string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resources[identifier]
	if !ok {
		return 0, authz.ErrResourceNotFound
	}
	return id, nil
}

func (m *memoryStore) Identifiers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.resources))
	for identifier := range m.resources {
		out = append(out, identifier)
	}
	return out, nil
}

func (m *memoryStore) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	return append([]int64(nil), m.groups[userID]...), nil
}

func (m *memoryStore) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.members[groupID]...), nil
}

var errStoreDown = errors.New("store unavailable")

var (
	_ authz.PermissionRepository = (*memoryStore)(nil)
	_ authz.ResourceDirectory    = (*memoryStore)(nil)
	_ authz.GroupDirectory       = (*memoryStore)(nil)
)
