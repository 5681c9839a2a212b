package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharos.id/internal/ids"
)

// ProvisionPolicy selects how Provision treats a tenant that already
// exists. The two behaviors carry materially different safety contracts,
// so the choice is explicit configuration rather than inference.
type ProvisionPolicy int

const (
	// ProvisionConflict rejects re-provisioning with ErrAlreadyProvisioned.
	ProvisionConflict ProvisionPolicy = iota
	// ProvisionOverwrite treats repeated provisioning as idempotent: the
	// admin credential is reset and a new signing key is rotated in. The
	// tenant's fixed salt is kept so existing user credentials survive.
	ProvisionOverwrite
)

// Built-in permittable groups created at provisioning.
const (
	GroupSelfManagement       = "SELF_MANAGEMENT"
	GroupTenantAdministration = "TENANT_ADMINISTRATION"
)

// DefaultAdminUsername is used when a tenant spec names no admin account.
const DefaultAdminUsername = "admin"

// TenantSpec describes a tenant to provision.
type TenantSpec struct {
	ID                    string
	Name                  string
	PasswordExpiresInDays int
	GraceDays             int
	AdminUsername         string
	AdminSecret           string
}

// ProvisionResult reports what bootstrap created.
type ProvisionResult struct {
	Tenant    *Tenant
	Admin     *User
	Signature *Signature
}

// Provision bootstraps a tenant: the tenant record with its fixed salt,
// the reserved administrator and deactivated roles, the built-in
// permittable groups, the admin account with a force-expired password,
// and the tenant's first signature. That signature doubles as the
// tenant's application signature advertised to verifying parties.
func (e *Engine) Provision(ctx context.Context, spec TenantSpec) (*ProvisionResult, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(spec.AdminSecret) == "" {
		return nil, fmt.Errorf("%w: admin secret is required", ErrInvalidInput)
	}
	if spec.AdminUsername = strings.TrimSpace(spec.AdminUsername); spec.AdminUsername == "" {
		spec.AdminUsername = DefaultAdminUsername
	}

	now := e.now().UTC()
	tenantID := strings.TrimSpace(spec.ID)
	var existing *Tenant
	if tenantID != "" {
		found, err := e.store.Tenants(ctx).Find(ctx, tenantID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("find tenant: %w", err)
		}
		if found != nil && e.provisionPolicy == ProvisionConflict {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProvisioned, tenantID)
		}
		existing = found
	} else {
		tenantID = ids.New()
	}

	tenant := &Tenant{
		ID:                    tenantID,
		Name:                  spec.Name,
		PasswordExpiresInDays: spec.PasswordExpiresInDays,
		GraceDays:             spec.GraceDays,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if existing != nil {
		// The fixed salt participates in every stored digest. An overwrite
		// re-provision keeps it, otherwise every existing user's credential
		// would stop verifying, not just the admin's. Expiry and grace
		// settings likewise survive unless the spec names new values.
		tenant.FixedSalt = existing.FixedSalt
		tenant.CreatedAt = existing.CreatedAt
		if tenant.PasswordExpiresInDays <= 0 {
			tenant.PasswordExpiresInDays = existing.PasswordExpiresInDays
		}
		if tenant.GraceDays <= 0 {
			tenant.GraceDays = existing.GraceDays
		}
	} else {
		fixedSalt, err := NewVariableSalt()
		if err != nil {
			return nil, err
		}
		tenant.FixedSalt = fixedSalt
	}
	if tenant.PasswordExpiresInDays <= 0 {
		tenant.PasswordExpiresInDays = DefaultPasswordExpiresInDays
	}
	if tenant.GraceDays <= 0 {
		tenant.GraceDays = DefaultGraceDays
	}
	if err := e.store.Tenants(ctx).Put(ctx, tenant); err != nil {
		return nil, fmt.Errorf("store tenant: %w", err)
	}

	if err := e.provisionGroups(ctx, tenant, now); err != nil {
		return nil, err
	}
	if err := e.provisionRoles(ctx, tenant, now); err != nil {
		return nil, err
	}

	admin := &User{
		TenantID:  tenant.ID,
		Username:  spec.AdminUsername,
		RoleID:    RoleAdministrator,
		CreatedAt: now,
	}
	if err := e.setPassword(ctx, tenant, admin, spec.AdminSecret, true); err != nil {
		return nil, err
	}

	sig, err := e.registry.Add(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, tenant.ID, "tenant.provisioned", map[string]any{
		"name":          tenant.Name,
		"admin":         admin.Username,
		"key_timestamp": sig.KeyTimestamp,
	})
	return &ProvisionResult{Tenant: tenant, Admin: admin, Signature: sig}, nil
}

func (e *Engine) provisionGroups(ctx context.Context, tenant *Tenant, now time.Time) error {
	groups := []*PermittableGroup{
		{
			TenantID: tenant.ID,
			ID:       GroupSelfManagement,
			Permittables: []Permittable{
				{Path: PathSelfPassword, Method: "PATCH"},
				{Path: PathSelfPermissions, Method: "GET"},
				{Path: PathSelfToken, Method: "DELETE"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			TenantID: tenant.ID,
			ID:       GroupTenantAdministration,
			Permittables: []Permittable{
				{Path: "/v1/users", Method: "POST"},
				{Path: "/v1/roles", Method: "PUT"},
				{Path: "/v1/groups", Method: "PUT"},
				{Path: "/v1/applications/permissions", Method: "PUT"},
				{Path: "/v1/applications/grants", Method: "PUT"},
				{Path: "/v1/keys", Method: "POST"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	for _, group := range groups {
		if err := e.store.Groups(ctx).Put(ctx, group); err != nil {
			return fmt.Errorf("store group %s: %w", group.ID, err)
		}
	}
	return nil
}

func (e *Engine) provisionRoles(ctx context.Context, tenant *Tenant, now time.Time) error {
	roles := []*Role{
		{
			TenantID:    tenant.ID,
			ID:          RoleAdministrator,
			Description: "Built-in tenant administrator",
			Permissions: []Permission{
				{GroupID: GroupSelfManagement, Operations: AllOperations()},
				{GroupID: GroupTenantAdministration, Operations: AllOperations()},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			TenantID:    tenant.ID,
			ID:          RoleDeactivated,
			Description: "Reserved; never assignable",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	for _, role := range roles {
		if err := e.store.Roles(ctx).Put(ctx, role); err != nil {
			return fmt.Errorf("store role %s: %w", role.ID, err)
		}
	}
	return nil
}

// CreateUser registers a user with an admin-chosen initial secret. The
// password is force-expired so the user lands in the grace window on the
// first login and can do nothing but set a real password.
func (e *Engine) CreateUser(ctx context.Context, tenantID, username, secret, roleID string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: username and secret are required", ErrInvalidInput)
	}
	if roleID == RoleDeactivated {
		return nil, fmt.Errorf("%w: %s", ErrReservedRole, roleID)
	}
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.Users(ctx).Find(ctx, tenant.ID, username); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: user %s", ErrAlreadyExists, username)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	user := &User{
		TenantID:  tenant.ID,
		Username:  username,
		RoleID:    roleID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.setPassword(ctx, tenant, user, secret, true); err != nil {
		return nil, err
	}
	e.publish(ctx, tenant.ID, "user.created", map[string]any{"username": username, "role": roleID})
	return user, nil
}

// ResetPassword is the admin-initiated reset of another user's secret.
// The replacement is force-expired exactly like a fresh account.
func (e *Engine) ResetPassword(ctx context.Context, tenantID, username, secret string) (*User, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, username)
	if err != nil {
		return nil, err
	}
	if err := e.setPassword(ctx, tenant, user, secret, true); err != nil {
		return nil, err
	}
	e.publish(ctx, tenant.ID, "password.reset", map[string]any{"username": username})
	return user, nil
}
