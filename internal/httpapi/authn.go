package httpapi

import (
	"context"
	"net/http"
	"strings"

	"pharos.id/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	tenantHeader = "X-Tenant-Id"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Username     string
	TenantID     string
	Capabilities auth.CapabilitySet
}

type principalKey struct{}

func contextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller authenticated by the guard.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// tenantID extracts the tenant routing header. Every tenant-scoped
// endpoint requires it.
func tenantID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(tenantHeader))
}

// guard authenticates the bearer token and enforces the capability for the
// requested path and verb before the handler runs.
func (a *API) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantID(r)
		if tenant == "" {
			writeError(w, r, http.StatusBadRequest, "missing tenant header")
			return
		}

		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.engine.VerifyAccess(r.Context(), tenant, token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		caps := auth.CapabilitiesFromClaims(claims.Capabilities)
		op, ok := auth.MethodOperation(r.Method)
		if !ok || !caps.Allows(capabilityPath(r.URL.Path), op) {
			writeError(w, r, http.StatusForbidden, "forbidden")
			return
		}

		ctx := contextWithPrincipal(r.Context(), Principal{
			Username:     claims.Subject,
			TenantID:     tenant,
			Capabilities: caps,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// capabilityPath maps a request path to the path capabilities are granted
// on. Sub-resources are authorized against their collection.
func capabilityPath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	if len(segs) >= 3 && segs[0] == "v1" {
		switch segs[1] {
		case "users":
			return "/v1/users"
		case "keys":
			return "/v1/keys"
		}
	}
	return p
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}
