package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine composes credential verification, permission resolution and
// token issuance into the two authentication entry points. It holds no
// per-request state; all mutable state lives in the store.
type Engine struct {
	store    Store
	registry *SignatureRegistry
	resolver *PermissionResolver
	issuer   *TokenIssuer
	verifier *TokenVerifier
	audit    AuditSink

	issuerName      string
	digest          Digest
	now             func() time.Time
	accessTTL       time.Duration
	refreshTTL      time.Duration
	provisionPolicy ProvisionPolicy
}

// EngineOption configures Engine behavior at construction.
type EngineOption func(*Engine) error

// WithAccessTTL sets the access token lifetime. Must be positive.
func WithAccessTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return errors.New("auth: access ttl must be greater than zero")
		}
		e.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL sets the refresh token lifetime. Must be positive.
func WithRefreshTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return errors.New("auth: refresh ttl must be greater than zero")
		}
		e.refreshTTL = ttl
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) EngineOption {
	return func(e *Engine) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		e.issuerName = issuer
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithDigest overrides the password hash primitive.
func WithDigest(d Digest) EngineOption {
	return func(e *Engine) error {
		if d != nil {
			e.digest = d
		}
		return nil
	}
}

// WithAuditSink attaches a best-effort audit publisher.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) error {
		e.audit = sink
		return nil
	}
}

// WithProvisionPolicy selects how a second Provision call for an existing
// tenant behaves.
func WithProvisionPolicy(p ProvisionPolicy) EngineOption {
	return func(e *Engine) error {
		e.provisionPolicy = p
		return nil
	}
}

// NewEngine constructs the engine over a store.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	e := &Engine{
		store:           store,
		issuerName:      DefaultIssuer,
		digest:          PBKDF2SHA256,
		now:             time.Now,
		accessTTL:       DefaultAccessTTL,
		refreshTTL:      DefaultRefreshTTL,
		provisionPolicy: ProvisionConflict,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.registry = NewSignatureRegistry(store)
	e.registry.now = e.now
	e.resolver = NewPermissionResolver(store)
	e.issuer = NewTokenIssuer(e.issuerName, e.now)
	e.verifier = NewTokenVerifier(e.issuerName, e.registry, e.now)
	return e, nil
}

// Registry exposes the signature registry for operator tooling.
func (e *Engine) Registry() *SignatureRegistry { return e.registry }

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	AccessToken       string
	AccessExpiresAt   time.Time
	RefreshToken      string
	RefreshExpiresAt  time.Time
	PasswordExpiresOn time.Time
	Capabilities      CapabilitySet
}

// Login authenticates a user by password and issues an access/refresh
// token pair. Unknown users, wrong secrets and locked passwords all fail
// with ErrAuthenticationFailed so callers cannot enumerate accounts.
func (e *Engine) Login(ctx context.Context, tenantID, username, secret string) (*LoginResult, error) {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same event and reason as a wrong secret: the trail must not
			// record whether the account exists.
			e.publish(ctx, tenant.ID, "authentication.failed", map[string]any{"username": username, "reason": "credentials"})
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !VerifySecret(e.digest, secret, user.PasswordHash, tenant.FixedSalt, user.VariableSalt, user.IterationCount) {
		e.publish(ctx, tenant.ID, "authentication.failed", map[string]any{"username": username, "reason": "credentials"})
		return nil, ErrAuthenticationFailed
	}

	state := PasswordStateAt(e.now().UTC(), user.PasswordExpiresOn, tenant.GraceDays)
	if state == PasswordLocked {
		e.publish(ctx, tenant.ID, "authentication.failed", map[string]any{"username": username, "reason": "expired"})
		return nil, ErrAuthenticationFailed
	}

	caps, err := e.resolver.Resolve(ctx, user, state)
	if err != nil {
		return nil, err
	}
	sig, err := e.registry.Current(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	access, err := e.issuer.IssueAccess(user.Username, tenant.ID, caps, sig, e.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := e.issuer.IssueRefresh(user.Username, tenant.ID, sig, e.refreshTTL)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, tenant.ID, "authentication.succeeded", map[string]any{
		"username":       username,
		"password_state": state.String(),
		"key_timestamp":  sig.KeyTimestamp,
	})
	return &LoginResult{
		AccessToken:       access.Token,
		AccessExpiresAt:   access.ExpiresAt,
		RefreshToken:      refresh.Token,
		RefreshExpiresAt:  refresh.ExpiresAt,
		PasswordExpiresOn: user.PasswordExpiresOn,
		Capabilities:      caps,
	}, nil
}

// Refresh validates a refresh token and issues a fresh access token.
// Capabilities are recomputed so role and grant changes take effect
// without re-login; the refresh token and its expiry are returned
// unchanged. A structurally valid token whose subject no longer exists is
// an invalid token, not a not-found.
func (e *Engine) Refresh(ctx context.Context, tenantID, refreshToken string) (*LoginResult, error) {
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	claims, err := e.verifier.VerifyRefresh(ctx, tenant.ID, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	state := PasswordStateAt(e.now().UTC(), user.PasswordExpiresOn, tenant.GraceDays)
	if state == PasswordLocked {
		e.publish(ctx, tenant.ID, "authentication.failed", map[string]any{"username": user.Username, "reason": "expired"})
		return nil, ErrAuthenticationFailed
	}

	caps, err := e.resolver.Resolve(ctx, user, state)
	if err != nil {
		return nil, err
	}
	sig, err := e.registry.Current(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	access, err := e.issuer.IssueAccess(user.Username, tenant.ID, caps, sig, e.accessTTL)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, tenant.ID, "authentication.refreshed", map[string]any{
		"username":       user.Username,
		"password_state": state.String(),
		"key_timestamp":  sig.KeyTimestamp,
	})
	return &LoginResult{
		AccessToken:       access.Token,
		AccessExpiresAt:   access.ExpiresAt,
		RefreshToken:      refreshToken,
		RefreshExpiresAt:  claims.ExpiresAt.Time,
		PasswordExpiresOn: user.PasswordExpiresOn,
		Capabilities:      caps,
	}, nil
}

// VerifyAccess validates an access token for the tenant, for use by the
// request guard at the boundary.
func (e *Engine) VerifyAccess(ctx context.Context, tenantID, token string) (*Claims, error) {
	return e.verifier.VerifyAccess(ctx, tenantID, token)
}

// ChangePassword verifies the current secret and stores a new credential
// with a fresh variable salt and a full expiry window. Locked users must
// go through an administrative reset.
func (e *Engine) ChangePassword(ctx context.Context, tenantID, username, currentSecret, newSecret string) (*User, error) {
	if strings.TrimSpace(newSecret) == "" {
		return nil, fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	tenant, err := e.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.Users(ctx).Find(ctx, tenant.ID, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !VerifySecret(e.digest, currentSecret, user.PasswordHash, tenant.FixedSalt, user.VariableSalt, user.IterationCount) {
		return nil, ErrAuthenticationFailed
	}
	if PasswordStateAt(e.now().UTC(), user.PasswordExpiresOn, tenant.GraceDays) == PasswordLocked {
		return nil, ErrAuthenticationFailed
	}

	if err := e.setPassword(ctx, tenant, user, newSecret, false); err != nil {
		return nil, err
	}
	e.publish(ctx, tenant.ID, "password.changed", map[string]any{"username": username})
	return user, nil
}

// setPassword rewrites the user's credential fields as a unit.
func (e *Engine) setPassword(ctx context.Context, tenant *Tenant, user *User, secret string, forceChange bool) error {
	salt, err := NewVariableSalt()
	if err != nil {
		return err
	}
	now := e.now().UTC()
	user.VariableSalt = salt
	user.IterationCount = DefaultIterationCount
	user.PasswordHash = HashSecret(e.digest, secret, tenant.FixedSalt, salt, user.IterationCount)
	user.PasswordExpiresOn = ComputeExpiration(now, forceChange, tenant.PasswordExpiresInDays)
	user.UpdatedAt = now
	if err := e.store.Users(ctx).Put(ctx, user); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

func (e *Engine) findTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	tenant, err := e.store.Tenants(ctx).Find(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant %s", ErrNotFound, tenantID)
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	return tenant, nil
}

// publish emits an audit event. Publishing is fire-and-forget: a sink
// failure must never fail the authentication result.
func (e *Engine) publish(ctx context.Context, tenantID, operation string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	e.audit.Publish(ctx, tenantID, operation, payload)
}
