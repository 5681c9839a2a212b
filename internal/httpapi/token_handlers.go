package httpapi

import (
	"errors"
	"net/http"
	"time"

	"pharos.id/internal/auth"
	"pharos.id/internal/obs"
)

const refreshCookie = "pharos_refresh"

type tokenRequest struct {
	GrantType    string `json:"grantType"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type tokenResponse struct {
	TokenType              string              `json:"tokenType"`
	AccessToken            string              `json:"accessToken"`
	AccessTokenExpiration  time.Time           `json:"accessTokenExpiration"`
	RefreshTokenExpiration time.Time           `json:"refreshTokenExpiration"`
	PasswordExpiration     time.Time           `json:"passwordExpiration"`
	Capabilities           map[string][]string `json:"capabilities"`
}

// handleToken serves both grants: password login and refresh. The refresh
// token travels in an HttpOnly cookie (or X-Refresh-Token for non-browser
// clients) and never appears in a response body.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, r, http.StatusBadRequest, "missing tenant header")
		return
	}
	// The body is optional for cookie-based refresh with ?grant_type set.
	var req tokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	grant := r.URL.Query().Get("grant_type")
	if grant == "" {
		grant = req.GrantType
	}

	switch grant {
	case "password":
		res, err := a.engine.Login(r.Context(), tenant, req.Username, req.Password)
		if err != nil {
			obs.ObserveGrant("password", grantResult(err))
			handleAuthError(w, r, err)
			return
		}
		obs.ObserveGrant("password", "ok")
		a.writeTokenResponse(w, r, res)

	case "refresh_token":
		token := req.RefreshToken
		if token == "" {
			token = refreshTokenFromRequest(r)
		}
		res, err := a.engine.Refresh(r.Context(), tenant, token)
		if err != nil {
			obs.ObserveGrant("refresh_token", grantResult(err))
			handleAuthError(w, r, err)
			return
		}
		obs.ObserveGrant("refresh_token", "ok")
		a.writeTokenResponse(w, r, res)

	default:
		writeError(w, r, http.StatusBadRequest, "unsupported grant type")
	}
}

func (a *API) writeTokenResponse(w http.ResponseWriter, r *http.Request, res *auth.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    res.RefreshToken,
		Path:     "/v1/token",
		Expires:  res.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		TokenType:              "bearer",
		AccessToken:            res.AccessToken,
		AccessTokenExpiration:  res.AccessExpiresAt,
		RefreshTokenExpiration: res.RefreshExpiresAt,
		PasswordExpiration:     res.PasswordExpiresOn,
		Capabilities:           res.Capabilities.Claims(),
	})
}

func refreshTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get("X-Refresh-Token"); token != "" {
		return token
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}

func grantResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return "denied"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, auth.ErrNoValidSignature):
		return "no_signature"
	default:
		return "error"
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleSelfPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.engine.ChangePassword(r.Context(), principal.TenantID, principal.Username, req.CurrentPassword, req.NewPassword)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"passwordExpiresOn": user.PasswordExpiresOn,
	})
}

func (a *API) handleSelfPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	caps, err := a.engine.ResolvePermissions(r.Context(), principal.TenantID, principal.Username)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": caps.Claims(),
	})
}

func (a *API) handleSelfToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	if err := a.engine.RevokeToken(r.Context(), principal.TenantID, principal.Username); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// Expire the refresh cookie so browser clients drop it immediately.
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/v1/token",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
