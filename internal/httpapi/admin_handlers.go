package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"pharos.id/internal/auth"
	"pharos.id/internal/obs"
)

type provisionRequest struct {
	ID                    string `json:"id,omitempty"`
	Name                  string `json:"name"`
	PasswordExpiresInDays int    `json:"passwordExpiresInDays,omitempty"`
	GraceDays             int    `json:"graceDays,omitempty"`
	AdminUsername         string `json:"adminUsername,omitempty"`
	AdminSecret           string `json:"adminSecret"`
}

// SetProvisionSecret protects tenant provisioning with a static bearer
// secret. With no secret set the endpoint is open, which is only
// acceptable on an internal network.
func (a *API) SetProvisionSecret(secret string) {
	a.provisionSecret = secret
}

func (a *API) handleTenants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.provisionSecret != "" {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.provisionSecret)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "invalid provisioning credential")
			return
		}
	}
	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.engine.Provision(r.Context(), auth.TenantSpec{
		ID:                    req.ID,
		Name:                  req.Name,
		PasswordExpiresInDays: req.PasswordExpiresInDays,
		GraceDays:             req.GraceDays,
		AdminUsername:         req.AdminUsername,
		AdminSecret:           req.AdminSecret,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            res.Tenant.ID,
		"name":          res.Tenant.Name,
		"admin":         res.Admin.Username,
		"keyTimestamp":  res.Signature.KeyTimestamp,
		"signingPublic": res.Signature.PublicPEM,
	})
}

type createUserRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
	Role     string `json:"role,omitempty"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.engine.CreateUser(r.Context(), principal.TenantID, req.Username, req.Secret, req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"username":          user.Username,
		"role":              user.RoleID,
		"passwordExpiresOn": user.PasswordExpiresOn,
	})
}

type resetPasswordRequest struct {
	Secret string `json:"secret"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	username := parts[0]

	switch parts[1] {
	case "password":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req resetPasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.engine.ResetPassword(r.Context(), principal.TenantID, username, req.Secret)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"username":          user.Username,
			"passwordExpiresOn": user.PasswordExpiresOn,
		})

	case "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.engine.AssignRole(r.Context(), principal.TenantID, username, req.Role); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

type upsertRoleRequest struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req upsertRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.UpsertRole(r.Context(), &auth.Role{
		TenantID:    principal.TenantID,
		ID:          req.ID,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerGroupRequest struct {
	ID           string             `json:"id"`
	Permittables []auth.Permittable `json:"permittables"`
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req registerGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.RegisterPermittableGroup(r.Context(), &auth.PermittableGroup{
		TenantID:     principal.TenantID,
		ID:           req.ID,
		Permittables: req.Permittables,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applicationPermissionRequest struct {
	ApplicationID string   `json:"applicationId"`
	GroupID       string   `json:"groupId"`
	Operations    []string `json:"operations"`
}

func (a *API) handleApplicationPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req applicationPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.RegisterApplicationPermission(r.Context(), &auth.ApplicationPermission{
		TenantID:      principal.TenantID,
		ApplicationID: req.ApplicationID,
		GroupID:       req.GroupID,
		Operations:    auth.ParseOperations(req.Operations),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applicationGrantRequest struct {
	Username      string `json:"username"`
	ApplicationID string `json:"applicationId"`
	GroupID       string `json:"groupId"`
	Enabled       bool   `json:"enabled"`
}

func (a *API) handleApplicationGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req applicationGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.engine.SetUserApplicationGrant(r.Context(), &auth.UserApplicationGrant{
		TenantID:      principal.TenantID,
		Username:      req.Username,
		ApplicationID: req.ApplicationID,
		GroupID:       req.GroupID,
		Enabled:       req.Enabled,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	switch r.Method {
	case http.MethodPost:
		sig, err := a.engine.RotateSignature(r.Context(), principal.TenantID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.ObserveKeyRotation()
		writeJSON(w, http.StatusCreated, map[string]any{
			"keyTimestamp": sig.KeyTimestamp,
			"publicKey":    sig.PublicPEM,
		})
	case http.MethodGet:
		timestamps, err := a.engine.ValidSignatureTimestamps(r.Context(), principal.TenantID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"keyTimestamps": timestamps,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleKeyResource(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	kid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/keys/"), "/")
	if kid == "" || strings.Contains(kid, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sig, err := a.engine.Registry().Get(r.Context(), principal.TenantID, kid)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"keyTimestamp": sig.KeyTimestamp,
			"publicKey":    sig.PublicPEM,
			"valid":        sig.Valid,
		})
	case http.MethodDelete:
		if err := a.engine.InvalidateSignature(r.Context(), principal.TenantID, kid); err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
