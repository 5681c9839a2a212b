package auth

import (
	"context"
	"errors"
	"fmt"
)

// Baseline capability paths. These exist so every authenticated user,
// even one with an empty or revoked role, can always manage its own
// credentials and session.
const (
	PathSelfPassword    = "/v1/self/password"
	PathSelfPermissions = "/v1/self/permissions"
	PathSelfToken       = "/v1/self/token"
)

// BaselineCapabilities returns the fixed capability set appended to every
// resolution result regardless of role: change own password, read own
// permissions, revoke own current token.
func BaselineCapabilities() CapabilitySet {
	caps := make(CapabilitySet, 3)
	caps.Grant(PathSelfPassword, NewOperationSet(OpChange))
	caps.Grant(PathSelfPermissions, NewOperationSet(OpRead))
	caps.Grant(PathSelfToken, NewOperationSet(OpDelete))
	return caps
}

// PermissionResolver turns a user's role grants, the endpoint-group
// catalog and cross-application declarations into concrete per-endpoint
// capabilities.
type PermissionResolver struct {
	store Store
}

// NewPermissionResolver builds a resolver over the store.
func NewPermissionResolver(store Store) *PermissionResolver {
	return &PermissionResolver{store: store}
}

// Resolve computes the capability set for a user in the given password
// state. Dangling role or group references resolve permissively empty,
// never as an error. In the grace state role grants are ignored entirely
// and only the baseline capabilities remain.
func (r *PermissionResolver) Resolve(ctx context.Context, user *User, state PasswordState) (CapabilitySet, error) {
	caps := BaselineCapabilities()
	if state != PasswordActive {
		return caps, nil
	}

	role, err := r.lookupRole(ctx, user)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return caps, nil
	}

	for _, perm := range role.Permissions {
		group, err := r.store.Groups(ctx).Find(ctx, user.TenantID, perm.GroupID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("find group %s: %w", perm.GroupID, err)
		}
		for _, endpoint := range group.Permittables {
			if endpoint.ApplicationID == "" || endpoint.ApplicationID == user.TenantID {
				caps.Grant(endpoint.Path, perm.Operations)
				continue
			}
			effective, err := r.crossApplicationOps(ctx, user, endpoint.ApplicationID, group.ID, perm.Operations)
			if err != nil {
				return nil, err
			}
			caps.Grant(endpoint.Path, effective)
		}
	}
	return caps, nil
}

func (r *PermissionResolver) lookupRole(ctx context.Context, user *User) (*Role, error) {
	if user.RoleID == "" || user.RoleID == RoleDeactivated {
		return nil, nil
	}
	role, err := r.store.Roles(ctx).Find(ctx, user.TenantID, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find role %s: %w", user.RoleID, err)
	}
	return role, nil
}

// crossApplicationOps narrows a role grant to what the target application
// itself declares for the group, gated by the per-user enablement flag.
// A missing declaration behaves as the empty set and a disabled or absent
// grant drops the capability entirely.
func (r *PermissionResolver) crossApplicationOps(ctx context.Context, user *User, applicationID, groupID string, granted OperationSet) (OperationSet, error) {
	apps := r.store.Applications(ctx)

	grant, err := apps.FindGrant(ctx, user.TenantID, user.Username, applicationID, groupID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find grant %s/%s: %w", applicationID, groupID, err)
	}
	if !grant.Enabled {
		return nil, nil
	}

	declared, err := apps.FindPermission(ctx, user.TenantID, applicationID, groupID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find application permission %s/%s: %w", applicationID, groupID, err)
	}
	return granted.Intersect(declared.Operations), nil
}
