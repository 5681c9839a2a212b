package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"pharos.id/internal/auth"
	"pharos.id/internal/obs"
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth engine.
type API struct {
	mux             *http.ServeMux
	engine          *auth.Engine
	readyProbe      ReadyProbe
	version         string
	provisionSecret string
}

func New(engine *auth.Engine, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     engine,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// token grants, rate limited per client IP
	a.mux.Handle("/v1/token", RateLimit(http.HandlerFunc(a.handleToken), 20, 10))

	// self-service
	a.mux.Handle("/v1/self/password", a.guard(http.HandlerFunc(a.handleSelfPassword)))
	a.mux.Handle("/v1/self/permissions", a.guard(http.HandlerFunc(a.handleSelfPermissions)))
	a.mux.Handle("/v1/self/token", a.guard(http.HandlerFunc(a.handleSelfToken)))

	// tenant administration
	a.mux.HandleFunc("/v1/tenants", a.handleTenants)
	a.mux.Handle("/v1/users", a.guard(http.HandlerFunc(a.handleUsers)))
	a.mux.Handle("/v1/users/", a.guard(http.HandlerFunc(a.handleUserResource)))
	a.mux.Handle("/v1/roles", a.guard(http.HandlerFunc(a.handleRoles)))
	a.mux.Handle("/v1/groups", a.guard(http.HandlerFunc(a.handleGroups)))
	a.mux.Handle("/v1/applications/permissions", a.guard(http.HandlerFunc(a.handleApplicationPermissions)))
	a.mux.Handle("/v1/applications/grants", a.guard(http.HandlerFunc(a.handleApplicationGrants)))
	a.mux.Handle("/v1/keys", a.guard(http.HandlerFunc(a.handleKeys)))
	a.mux.Handle("/v1/keys/", a.guard(http.HandlerFunc(a.handleKeyResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the server handler with the standard middleware chain.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(MaxBodyBytes(a.mux, 1<<20)))))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "pharos-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "pharos-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
