package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testClock is a settable time source shared by an engine and its tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock { return &testClock{now: start} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures published audit events.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Publish(_ context.Context, _ string, operation string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, operation)
}

func (r *recordingSink) has(operation string) bool {
	return r.count(operation) > 0
}

func (r *recordingSink) count(operation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.events {
		if op == operation {
			n++
		}
	}
	return n
}

type engineFixture struct {
	engine *Engine
	store  *MemoryStore
	clock  *testClock
	sink   *recordingSink
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	clock := newTestClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	store := NewMemoryStore()

	all := append([]EngineOption{
		WithClock(clock.Now),
		WithAuditSink(sink),
	}, opts...)
	engine, err := NewEngine(store, all...)
	require.NoError(t, err)
	return &engineFixture{engine: engine, store: store, clock: clock, sink: sink}
}

// provision bootstraps a tenant and upgrades the admin out of the forced
// grace window so most tests start from an active credential.
func (f *engineFixture) provision(t *testing.T, spec TenantSpec) *ProvisionResult {
	t.Helper()
	res, err := f.engine.Provision(context.Background(), spec)
	require.NoError(t, err)
	return res
}

func TestProvision(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	res := f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	require.Equal(t, "acme", res.Tenant.ID)
	require.NotEmpty(t, res.Tenant.FixedSalt)
	require.Equal(t, DefaultPasswordExpiresInDays, res.Tenant.PasswordExpiresInDays)
	require.Equal(t, DefaultAdminUsername, res.Admin.Username)
	require.Equal(t, RoleAdministrator, res.Admin.RoleID)
	require.True(t, res.Signature.Valid)

	// Built-in groups and roles exist.
	for _, id := range []string{GroupSelfManagement, GroupTenantAdministration} {
		_, err := f.store.Groups(ctx).Find(ctx, "acme", id)
		require.NoError(t, err, id)
	}
	for _, id := range []string{RoleAdministrator, RoleDeactivated} {
		_, err := f.store.Roles(ctx).Find(ctx, "acme", id)
		require.NoError(t, err, id)
	}

	// The admin password is force-expired: first login lands in grace.
	login, err := f.engine.Login(ctx, "acme", DefaultAdminUsername, "bootstrap!")
	require.NoError(t, err)
	require.True(t, login.Capabilities.Equal(BaselineCapabilities()))
	require.True(t, f.sink.has("tenant.provisioned"))
}

func TestProvisionConflict(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})

	_, err := f.engine.Provision(context.Background(), TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "again"})
	require.ErrorIs(t, err, ErrAlreadyProvisioned)
}

func TestProvisionOverwrite(t *testing.T) {
	f := newEngineFixture(t, WithProvisionPolicy(ProvisionOverwrite))
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "first"})
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "second"})

	// Old admin credential no longer works; new one does.
	_, err := f.engine.Login(context.Background(), "acme", DefaultAdminUsername, "first")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.Login(context.Background(), "acme", DefaultAdminUsername, "second")
	require.NoError(t, err)
}

func TestProvisionOverwriteKeepsUserCredentials(t *testing.T) {
	f := newEngineFixture(t, WithProvisionPolicy(ProvisionOverwrite))
	ctx := context.Background()
	first := f.provision(t, TenantSpec{ID: "acme", Name: "Acme", GraceDays: 4, AdminSecret: "first"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")

	second := f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "second"})

	// The fixed salt feeds every stored digest, so re-provisioning must not
	// rotate it: dana never changed her password and still logs in.
	require.Equal(t, first.Tenant.FixedSalt, second.Tenant.FixedSalt)
	_, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	// Unspecified settings keep their configured values.
	stored, err := f.store.Tenants(ctx).Find(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 4, stored.GraceDays)
}

func TestProvisionValidation(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Provision(context.Background(), TenantSpec{Name: "", AdminSecret: "x"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.engine.Provision(context.Background(), TenantSpec{Name: "Acme"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

// activeUser creates a user and walks it through the forced first change so
// its credential is fully active.
func (f *engineFixture) activeUser(t *testing.T, tenantID, username, secret, roleID string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.CreateUser(ctx, tenantID, username, "initial-"+secret, roleID)
	require.NoError(t, err)
	_, err = f.engine.ChangePassword(ctx, tenantID, username, "initial-"+secret, secret)
	require.NoError(t, err)
}

func TestLoginUnknownTenant(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Login(context.Background(), "ghost", "dana", "pw")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoginFailures(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	// Unknown user and wrong secret are indistinguishable.
	_, err := f.engine.Login(ctx, "acme", "nobody", "pw-dana")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.Login(ctx, "acme", "dana", "wrong")
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// Both failures leave the same audit trail, so probing against
	// nonexistent accounts is counted too.
	require.Equal(t, 2, f.sink.count("authentication.failed"))
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)
	require.True(t, login.AccessExpiresAt.Equal(f.clock.Now().Add(DefaultAccessTTL)))
	require.True(t, login.RefreshExpiresAt.Equal(f.clock.Now().Add(DefaultRefreshTTL)))

	claims, err := f.engine.VerifyAccess(ctx, "acme", login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "dana", claims.Subject)
	require.True(t, CapabilitiesFromClaims(claims.Capabilities).Equal(login.Capabilities))
}

func TestRefresh(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	refreshed, err := f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.NoError(t, err)

	// Same refresh token and expiry, fresh access token, same capabilities.
	require.Equal(t, login.RefreshToken, refreshed.RefreshToken)
	require.True(t, refreshed.RefreshExpiresAt.Equal(login.RefreshExpiresAt))
	require.NotEqual(t, login.AccessToken, refreshed.AccessToken)
	require.True(t, refreshed.Capabilities.Equal(login.Capabilities))

	claims, err := f.engine.VerifyAccess(ctx, "acme", refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "dana", claims.Subject)
}

func TestRefreshIsRepeatable(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	// The same still-valid refresh token works repeatedly: each call
	// yields the same subject and refresh expiry, only the access token
	// is new.
	f.clock.Advance(10 * time.Minute)
	first, err := f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	second, err := f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.NoError(t, err)

	require.Equal(t, first.RefreshToken, second.RefreshToken)
	require.True(t, second.RefreshExpiresAt.Equal(first.RefreshExpiresAt))
	require.NotEqual(t, first.AccessToken, second.AccessToken)

	for _, token := range []string{first.AccessToken, second.AccessToken} {
		claims, err := f.engine.VerifyAccess(ctx, "acme", token)
		require.NoError(t, err)
		require.Equal(t, "dana", claims.Subject)
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)
	require.True(t, login.Capabilities.Equal(BaselineCapabilities()))

	require.NoError(t, f.engine.RegisterPermittableGroup(ctx, &PermittableGroup{
		TenantID:     "acme",
		ID:           "REPORTING",
		Permittables: []Permittable{{Path: "/v1/reports", Method: "GET"}},
	}))
	require.NoError(t, f.engine.UpsertRole(ctx, &Role{
		TenantID:    "acme",
		ID:          "analyst",
		Permissions: []Permission{{GroupID: "REPORTING", Operations: NewOperationSet(OpRead)}},
	}))
	require.NoError(t, f.engine.AssignRole(ctx, "acme", "dana", "analyst"))

	refreshed, err := f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.NoError(t, err)
	require.True(t, refreshed.Capabilities.Allows("/v1/reports", OpRead))
}

func TestRefreshRejectsAccessTokenAndGarbage(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, "acme", login.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.engine.Refresh(ctx, "acme", "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshSurvivesRotation(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	_, err = f.engine.RotateSignature(ctx, "acme")
	require.NoError(t, err)

	// The old refresh token still verifies; the new access token is signed
	// with the rotated key.
	refreshed, err := f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.NoError(t, err)
	claims, err := f.engine.VerifyAccess(ctx, "acme", refreshed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "dana", claims.Subject)

	// Retiring the original key kills the outstanding refresh token.
	timestamps, err := f.engine.ValidSignatureTimestamps(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, timestamps, 2)
	require.NoError(t, f.engine.InvalidateSignature(ctx, "acme", timestamps[0]))
	_, err = f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestChangePassword(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	_, err := f.engine.ChangePassword(ctx, "acme", "dana", "wrong", "new-pw")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.ChangePassword(ctx, "acme", "dana", "pw-dana", "  ")
	require.ErrorIs(t, err, ErrInvalidInput)

	user, err := f.engine.ChangePassword(ctx, "acme", "dana", "pw-dana", "new-pw")
	require.NoError(t, err)
	require.True(t, user.PasswordExpiresOn.Equal(f.clock.Now().AddDate(0, 0, DefaultPasswordExpiresInDays)))

	_, err = f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.Login(ctx, "acme", "dana", "new-pw")
	require.NoError(t, err)
}

func TestLockedCredential(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", GraceDays: 4, AdminSecret: "bootstrap!"})
	f.activeUser(t, "acme", "dana", "pw-dana", "")
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.NoError(t, err)

	// Push past expiry plus the whole grace window.
	f.clock.Advance(time.Duration(DefaultPasswordExpiresInDays+4) * 24 * time.Hour)

	_, err = f.engine.Login(ctx, "acme", "dana", "pw-dana")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.Refresh(ctx, "acme", login.RefreshToken)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.ChangePassword(ctx, "acme", "dana", "pw-dana", "new-pw")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = f.engine.ResolvePermissions(ctx, "acme", "dana")
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// Administrative reset unlocks the account into grace.
	_, err = f.engine.ResetPassword(ctx, "acme", "dana", "reset-pw")
	require.NoError(t, err)
	relogin, err := f.engine.Login(ctx, "acme", "dana", "reset-pw")
	require.NoError(t, err)
	require.True(t, relogin.Capabilities.Equal(BaselineCapabilities()))
}

func TestCreateUser(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	ctx := context.Background()

	_, err := f.engine.CreateUser(ctx, "acme", "dana", "pw", RoleDeactivated)
	require.ErrorIs(t, err, ErrReservedRole)

	user, err := f.engine.CreateUser(ctx, "acme", "dana", "pw", "")
	require.NoError(t, err)
	require.True(t, user.PasswordExpiresOn.Equal(f.clock.Now()))

	_, err = f.engine.CreateUser(ctx, "acme", "dana", "pw", "")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRoleManagement(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})
	ctx := context.Background()

	err := f.engine.UpsertRole(ctx, &Role{TenantID: "acme", ID: RoleAdministrator})
	require.ErrorIs(t, err, ErrReservedRole)
	err = f.engine.UpsertRole(ctx, &Role{TenantID: "acme", ID: RoleDeactivated})
	require.ErrorIs(t, err, ErrReservedRole)
	err = f.engine.UpsertRole(ctx, &Role{TenantID: "acme", ID: "analyst",
		Permissions: []Permission{{GroupID: "", Operations: AllOperations()}}})
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.engine.UpsertRole(ctx, &Role{TenantID: "acme", ID: "analyst"}))

	f.activeUser(t, "acme", "dana", "pw-dana", "")
	require.ErrorIs(t, f.engine.AssignRole(ctx, "acme", "dana", RoleDeactivated), ErrReservedRole)
	require.NoError(t, f.engine.AssignRole(ctx, "acme", "dana", "analyst"))

	user, err := f.store.Users(ctx).Find(ctx, "acme", "dana")
	require.NoError(t, err)
	require.Equal(t, "analyst", user.RoleID)
}

func TestRevokeTokenAudits(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "acme", Name: "Acme", AdminSecret: "bootstrap!"})

	require.NoError(t, f.engine.RevokeToken(context.Background(), "acme", "dana"))
	require.True(t, f.sink.has("token.revoked"))
}

// TestScribeOnboarding walks a freshly created account through the forced
// first change: 93-day expiry with a 4-day grace window, baseline-only
// capabilities from day one, full role capabilities after the change.
func TestScribeOnboarding(t *testing.T) {
	f := newEngineFixture(t)
	f.provision(t, TenantSpec{ID: "papyrus", Name: "Papyrus", PasswordExpiresInDays: 93, GraceDays: 4, AdminSecret: "bootstrap!"})
	ctx := context.Background()

	require.NoError(t, f.engine.RegisterPermittableGroup(ctx, &PermittableGroup{
		TenantID: "papyrus",
		ID:       "SCROLLS",
		Permittables: []Permittable{
			{Path: "/v1/scrolls", Method: "GET"},
			{Path: "/v1/scrolls", Method: "POST"},
		},
	}))
	require.NoError(t, f.engine.UpsertRole(ctx, &Role{
		TenantID:    "papyrus",
		ID:          "scribe",
		Permissions: []Permission{{GroupID: "SCROLLS", Operations: AllOperations()}},
	}))

	created, err := f.engine.CreateUser(ctx, "papyrus", "ahmes", "temp-secret", "scribe")
	require.NoError(t, err)
	require.True(t, created.PasswordExpiresOn.Equal(f.clock.Now()))

	// Two days in: still inside the 4-day grace window. Login works but
	// only the baseline capabilities are granted.
	f.clock.Advance(48 * time.Hour)
	login, err := f.engine.Login(ctx, "papyrus", "ahmes", "temp-secret")
	require.NoError(t, err)
	require.True(t, login.Capabilities.Equal(BaselineCapabilities()))
	require.False(t, login.Capabilities.Allows("/v1/scrolls", OpRead))

	// The change restores the full window and the role's capabilities.
	changed, err := f.engine.ChangePassword(ctx, "papyrus", "ahmes", "temp-secret", "real-secret")
	require.NoError(t, err)
	require.True(t, changed.PasswordExpiresOn.Equal(f.clock.Now().AddDate(0, 0, 93)))

	relogin, err := f.engine.Login(ctx, "papyrus", "ahmes", "real-secret")
	require.NoError(t, err)
	require.True(t, relogin.Capabilities.Allows("/v1/scrolls", OpRead))
	require.True(t, relogin.Capabilities.Allows("/v1/scrolls", OpChange))
	require.True(t, relogin.Capabilities.Allows("/v1/scrolls", OpDelete))

	// Five more days and the unchanged password would have locked; the
	// fresh one is active.
	f.clock.Advance(5 * 24 * time.Hour)
	_, err = f.engine.Login(ctx, "papyrus", "ahmes", "real-secret")
	require.NoError(t, err)
}
