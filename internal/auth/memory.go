package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and single-process
// development runs. Semantics mirror the PostgreSQL store: last-writer-wins
// puts, ErrNotFound on missing keys, values copied on the way in and out.
type MemoryStore struct {
	mu       sync.Mutex
	tenants  map[string]*Tenant
	users    map[string]*User
	roles    map[string]*Role
	groups   map[string]*PermittableGroup
	appPerms map[string]*ApplicationPermission
	grants   map[string]*UserApplicationGrant
	sigs     map[string]*Signature
	audit    []*AuditEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]*Tenant),
		users:    make(map[string]*User),
		roles:    make(map[string]*Role),
		groups:   make(map[string]*PermittableGroup),
		appPerms: make(map[string]*ApplicationPermission),
		grants:   make(map[string]*UserApplicationGrant),
		sigs:     make(map[string]*Signature),
	}
}

func memKey(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "\x00" + p
	}
	return key
}

func (s *MemoryStore) Tenants(context.Context) TenantStore          { return memTenants{s} }
func (s *MemoryStore) Users(context.Context) UserStore              { return memUsers{s} }
func (s *MemoryStore) Roles(context.Context) RoleStore              { return memRoles{s} }
func (s *MemoryStore) Groups(context.Context) PermittableGroupStore { return memGroups{s} }
func (s *MemoryStore) Applications(context.Context) ApplicationStore {
	return memApplications{s}
}
func (s *MemoryStore) Signatures(context.Context) SignatureStore { return memSignatures{s} }
func (s *MemoryStore) Audit(context.Context) AuditStore          { return memAudit{s} }

type memTenants struct{ s *MemoryStore }

func (m memTenants) Put(_ context.Context, t *Tenant) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *t
	m.s.tenants[t.ID] = &cp
	return nil
}

func (m memTenants) Find(_ context.Context, id string) (*Tenant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

type memUsers struct{ s *MemoryStore }

func (m memUsers) Put(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *u
	m.s.users[memKey(u.TenantID, u.Username)] = &cp
	return nil
}

func (m memUsers) Find(_ context.Context, tenantID, username string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[memKey(tenantID, username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memRoles struct{ s *MemoryStore }

func (m memRoles) Put(_ context.Context, role *Role) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *role
	cp.Permissions = append([]Permission(nil), role.Permissions...)
	m.s.roles[memKey(role.TenantID, role.ID)] = &cp
	return nil
}

func (m memRoles) Find(_ context.Context, tenantID, id string) (*Role, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	role, ok := m.s.roles[memKey(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]Permission(nil), role.Permissions...)
	return &cp, nil
}

type memGroups struct{ s *MemoryStore }

func (m memGroups) Put(_ context.Context, group *PermittableGroup) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *group
	cp.Permittables = append([]Permittable(nil), group.Permittables...)
	m.s.groups[memKey(group.TenantID, group.ID)] = &cp
	return nil
}

func (m memGroups) Find(_ context.Context, tenantID, id string) (*PermittableGroup, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	group, ok := m.s.groups[memKey(tenantID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *group
	cp.Permittables = append([]Permittable(nil), group.Permittables...)
	return &cp, nil
}

type memApplications struct{ s *MemoryStore }

func (m memApplications) PutPermission(_ context.Context, perm *ApplicationPermission) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *perm
	m.s.appPerms[memKey(perm.TenantID, perm.ApplicationID, perm.GroupID)] = &cp
	return nil
}

func (m memApplications) FindPermission(_ context.Context, tenantID, applicationID, groupID string) (*ApplicationPermission, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	perm, ok := m.s.appPerms[memKey(tenantID, applicationID, groupID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *perm
	return &cp, nil
}

func (m memApplications) PutGrant(_ context.Context, grant *UserApplicationGrant) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *grant
	m.s.grants[memKey(grant.TenantID, grant.Username, grant.ApplicationID, grant.GroupID)] = &cp
	return nil
}

func (m memApplications) FindGrant(_ context.Context, tenantID, username, applicationID, groupID string) (*UserApplicationGrant, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	grant, ok := m.s.grants[memKey(tenantID, username, applicationID, groupID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *grant
	return &cp, nil
}

type memSignatures struct{ s *MemoryStore }

func (m memSignatures) Put(_ context.Context, sig *Signature) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *sig
	m.s.sigs[memKey(sig.TenantID, sig.KeyTimestamp)] = &cp
	return nil
}

func (m memSignatures) Find(_ context.Context, tenantID, keyTimestamp string) (*Signature, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sig, ok := m.s.sigs[memKey(tenantID, keyTimestamp)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (m memSignatures) ScanByTenant(_ context.Context, tenantID string) ([]*Signature, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Signature
	for _, sig := range m.s.sigs {
		if sig.TenantID == tenantID {
			cp := *sig
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memSignatures) PurgeInvalidatedBefore(_ context.Context, tenantID string, cutoff time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for key, sig := range m.s.sigs {
		if sig.TenantID == tenantID && !sig.Valid && sig.CreatedAt.Before(cutoff) {
			delete(m.s.sigs, key)
		}
	}
	return nil
}

type memAudit struct{ s *MemoryStore }

func (m memAudit) Append(_ context.Context, entry *AuditEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *entry
	m.s.audit = append(m.s.audit, &cp)
	return nil
}
