package auth

import "time"

// Reserved role identifiers. The administrator role is created at
// provisioning and never modified afterwards; the deactivated identifier
// exists so operators can park a user without deleting it, and can never
// be assigned.
const (
	RoleAdministrator = "administrator"
	RoleDeactivated   = "deactivated"
)

// Tenant is an isolated customer namespace. The fixed salt and the
// password expiry/grace windows are set once at provisioning.
type Tenant struct {
	ID                    string
	Name                  string
	FixedSalt             string
	PasswordExpiresInDays int
	GraceDays             int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// User is a credentialed account scoped to a tenant. The password fields
// are rewritten as a unit on every password change.
type User struct {
	TenantID          string
	Username          string
	RoleID            string
	PasswordHash      string
	VariableSalt      string
	IterationCount    int
	PasswordExpiresOn time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Permission grants a set of operations over one permittable group.
type Permission struct {
	GroupID    string       `json:"group_id"`
	Operations OperationSet `json:"operations"`
}

// Role is a named bundle of permissions. Users reference roles by
// identifier; the reference is weak and may dangle.
type Role struct {
	TenantID    string
	ID          string
	Description string
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permittable is one concrete protected endpoint inside a group.
// An empty ApplicationID means the endpoint belongs to the issuing
// tenant's own application surface.
type Permittable struct {
	Path          string `json:"path"`
	Method        string `json:"method"`
	ApplicationID string `json:"application_id,omitempty"`
}

// PermittableGroup maps a coarse-grained permission group to the concrete
// endpoints it protects. Read-mostly; registered at provisioning or by
// explicit group registration.
type PermittableGroup struct {
	TenantID     string
	ID           string
	Permittables []Permittable
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ApplicationPermission declares which operations a dependent application
// accepts for a permission group. A role grant destined for that
// application can never exceed this declaration.
type ApplicationPermission struct {
	TenantID      string
	ApplicationID string
	GroupID       string
	Operations    OperationSet
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserApplicationGrant gates whether a user's cross-application grant for
// one application+group pair is active at all.
type UserApplicationGrant struct {
	TenantID      string
	Username      string
	ApplicationID string
	GroupID       string
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Signature is an asymmetric signing key pair versioned by its creation
// timestamp. Invalidation is a soft delete: the key disappears from
// current-key selection but stays resolvable so tokens signed before a
// rotation keep verifying until they expire.
type Signature struct {
	TenantID     string
	KeyTimestamp string
	PublicPEM    string
	PrivatePEM   string
	Valid        bool
	CreatedAt    time.Time
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID         string
	TenantID   string
	OccurredAt time.Time
	Operation  string
	Payload    map[string]any
}
