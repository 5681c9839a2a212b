package auth

import (
	"context"
	"fmt"
	"strings"
)

// UpsertRole creates or replaces a role document. The reserved role
// identifiers cannot be touched.
func (e *Engine) UpsertRole(ctx context.Context, role *Role) error {
	if role == nil || strings.TrimSpace(role.ID) == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if role.ID == RoleAdministrator || role.ID == RoleDeactivated {
		return fmt.Errorf("%w: %s", ErrReservedRole, role.ID)
	}
	tenant, err := e.findTenant(ctx, role.TenantID)
	if err != nil {
		return err
	}
	for _, perm := range role.Permissions {
		if strings.TrimSpace(perm.GroupID) == "" {
			return fmt.Errorf("%w: permission group id is required", ErrInvalidInput)
		}
	}
	now := e.now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	if err := e.store.Roles(ctx).Put(ctx, role); err != nil {
		return fmt.Errorf("store role: %w", err)
	}
	e.publish(ctx, tenant.ID, "role.upserted", map[string]any{"role": role.ID})
	return nil
}

// AssignRole points a user at a role. Assigning the deactivated
// identifier is forbidden; clearing the role entirely is how a user is
// left without grants.
func (e *Engine) AssignRole(ctx context.Context, tenantID, username, roleID string) error {
	if roleID == RoleDeactivated {
		return fmt.Errorf("%w: %s", ErrReservedRole, roleID)
	}
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, username)
	if err != nil {
		return err
	}
	user.RoleID = roleID
	user.UpdatedAt = e.now().UTC()
	if err := e.store.Users(ctx).Put(ctx, user); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	e.publish(ctx, tenant.ID, "role.assigned", map[string]any{"username": username, "role": roleID})
	return nil
}

// RegisterPermittableGroup creates or replaces an endpoint-group catalog
// entry.
func (e *Engine) RegisterPermittableGroup(ctx context.Context, group *PermittableGroup) error {
	if group == nil || strings.TrimSpace(group.ID) == "" {
		return fmt.Errorf("%w: group id is required", ErrInvalidInput)
	}
	tenant, err := e.findTenant(ctx, group.TenantID)
	if err != nil {
		return err
	}
	for _, p := range group.Permittables {
		if strings.TrimSpace(p.Path) == "" {
			return fmt.Errorf("%w: permittable path is required", ErrInvalidInput)
		}
	}
	now := e.now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	if err := e.store.Groups(ctx).Put(ctx, group); err != nil {
		return fmt.Errorf("store group: %w", err)
	}
	e.publish(ctx, tenant.ID, "group.registered", map[string]any{"group": group.ID})
	return nil
}

// RegisterApplicationPermission records what a dependent application
// accepts for a permission group.
func (e *Engine) RegisterApplicationPermission(ctx context.Context, perm *ApplicationPermission) error {
	if perm == nil || strings.TrimSpace(perm.ApplicationID) == "" || strings.TrimSpace(perm.GroupID) == "" {
		return fmt.Errorf("%w: application id and group id are required", ErrInvalidInput)
	}
	tenant, err := e.findTenant(ctx, perm.TenantID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = now
	}
	perm.UpdatedAt = now
	if err := e.store.Applications(ctx).PutPermission(ctx, perm); err != nil {
		return fmt.Errorf("store application permission: %w", err)
	}
	e.publish(ctx, tenant.ID, "application.permission.registered", map[string]any{
		"application": perm.ApplicationID,
		"group":       perm.GroupID,
	})
	return nil
}

// SetUserApplicationGrant flips the per-user enablement flag for one
// application+group pair.
func (e *Engine) SetUserApplicationGrant(ctx context.Context, grant *UserApplicationGrant) error {
	if grant == nil || strings.TrimSpace(grant.Username) == "" ||
		strings.TrimSpace(grant.ApplicationID) == "" || strings.TrimSpace(grant.GroupID) == "" {
		return fmt.Errorf("%w: username, application id and group id are required", ErrInvalidInput)
	}
	tenant, err := e.findTenant(ctx, grant.TenantID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = now
	}
	grant.UpdatedAt = now
	if err := e.store.Applications(ctx).PutGrant(ctx, grant); err != nil {
		return fmt.Errorf("store grant: %w", err)
	}
	e.publish(ctx, tenant.ID, "application.grant.set", map[string]any{
		"username":    grant.Username,
		"application": grant.ApplicationID,
		"group":       grant.GroupID,
		"enabled":     grant.Enabled,
	})
	return nil
}

// RotateSignature creates a new signing key and makes it current for all
// future issuance. Prior keys stay valid until explicitly invalidated.
func (e *Engine) RotateSignature(ctx context.Context, tenantID string) (*Signature, error) {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sig, err := e.registry.Add(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, tenant.ID, "signature.rotated", map[string]any{"key_timestamp": sig.KeyTimestamp})
	return sig, nil
}

// InvalidateSignature retires a signing key. Operators should wait at
// least the maximum refresh-token TTL after a rotation before
// invalidating the previous key.
func (e *Engine) InvalidateSignature(ctx context.Context, tenantID, keyTimestamp string) error {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := e.registry.Invalidate(ctx, tenant.ID, keyTimestamp); err != nil {
		return err
	}
	e.publish(ctx, tenant.ID, "signature.invalidated", map[string]any{"key_timestamp": keyTimestamp})
	return nil
}

// ValidSignatureTimestamps lists the tenant's valid key versions.
func (e *Engine) ValidSignatureTimestamps(ctx context.Context, tenantID string) ([]string, error) {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.registry.ValidTimestamps(ctx, tenant.ID)
}

// ResolvePermissions recomputes a user's current capability set, as
// served by the read-own-permissions endpoint.
func (e *Engine) ResolvePermissions(ctx context.Context, tenantID, username string) (CapabilitySet, error) {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, username)
	if err != nil {
		return nil, err
	}
	state := PasswordStateAt(e.now().UTC(), user.PasswordExpiresOn, tenant.GraceDays)
	if state == PasswordLocked {
		return nil, ErrAuthenticationFailed
	}
	return e.resolver.Resolve(ctx, user, state)
}

// RevokeToken records a logout. Tokens are self-contained and stateless,
// so revocation is an audit fact for downstream consumers rather than a
// server-side state change.
func (e *Engine) RevokeToken(ctx context.Context, tenantID, username string) error {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	e.publish(ctx, tenant.ID, "token.revoked", map[string]any{"username": username})
	return nil
}
