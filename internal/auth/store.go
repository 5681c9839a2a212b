package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core needs. Every
// entity follows key-value semantics: single-key get, last-writer-wins
// put, and partition scans. The core never issues multi-row transactions.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Groups(ctx context.Context) PermittableGroupStore
	Applications(ctx context.Context) ApplicationStore
	Signatures(ctx context.Context) SignatureStore
	Audit(ctx context.Context) AuditStore
}

// TenantStore manages tenant records.
type TenantStore interface {
	Put(ctx context.Context, tenant *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
}

// UserStore manages user records keyed by (tenant, username).
type UserStore interface {
	Put(ctx context.Context, user *User) error
	Find(ctx context.Context, tenantID, username string) (*User, error)
}

// RoleStore manages role documents.
type RoleStore interface {
	Put(ctx context.Context, role *Role) error
	Find(ctx context.Context, tenantID, id string) (*Role, error)
}

// PermittableGroupStore manages the endpoint-group catalog.
type PermittableGroupStore interface {
	Put(ctx context.Context, group *PermittableGroup) error
	Find(ctx context.Context, tenantID, id string) (*PermittableGroup, error)
}

// ApplicationStore manages cross-application declarations and per-user
// enablement flags.
type ApplicationStore interface {
	PutPermission(ctx context.Context, perm *ApplicationPermission) error
	FindPermission(ctx context.Context, tenantID, applicationID, groupID string) (*ApplicationPermission, error)
	PutGrant(ctx context.Context, grant *UserApplicationGrant) error
	FindGrant(ctx context.Context, tenantID, username, applicationID, groupID string) (*UserApplicationGrant, error)
}

// SignatureStore manages the soft-deleted signing key registry rows.
// PurgeInvalidatedBefore physically deletes invalidated key material older
// than the cutoff; the retention window is an operator decision and the
// engine never calls it.
type SignatureStore interface {
	Put(ctx context.Context, sig *Signature) error
	Find(ctx context.Context, tenantID, keyTimestamp string) (*Signature, error)
	ScanByTenant(ctx context.Context, tenantID string) ([]*Signature, error)
	PurgeInvalidatedBefore(ctx context.Context, tenantID string, cutoff time.Time) error
}

// AuditStore appends immutable audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// AuditSink receives best-effort audit events after state-changing
// operations. Implementations must not block the caller's result; errors
// are swallowed by the publisher.
type AuditSink interface {
	Publish(ctx context.Context, tenantID, operation string, payload map[string]any)
}
