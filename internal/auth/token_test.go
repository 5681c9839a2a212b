package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func tokenFixture(t *testing.T) (*SignatureRegistry, *Signature, func() time.Time) {
	t.Helper()
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)
	sig, err := reg.Add(context.Background(), "acme")
	if err != nil {
		t.Fatalf("add signature: %v", err)
	}
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return reg, sig, func() time.Time { return base }
}

func TestTokenRoundTrip(t *testing.T) {
	reg, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)
	verifier := NewTokenVerifier("", reg, clock)
	ctx := context.Background()

	caps := BaselineCapabilities()
	access, err := issuer.IssueAccess("dana", "acme", caps, sig, DefaultAccessTTL)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if !access.ExpiresAt.Equal(clock().Add(DefaultAccessTTL)) {
		t.Fatalf("unexpected expiry %v", access.ExpiresAt)
	}

	claims, err := verifier.VerifyAccess(ctx, "acme", access.Token)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Subject != "dana" || claims.TenantID != "acme" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := CapabilitiesFromClaims(claims.Capabilities); !got.Equal(caps) {
		t.Fatalf("capabilities mismatch: %v", got)
	}

	// An access token is not a refresh token.
	if _, err := verifier.VerifyRefresh(ctx, "acme", access.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshTokenCarriesNoCapabilities(t *testing.T) {
	reg, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)
	verifier := NewTokenVerifier("", reg, clock)

	refresh, err := issuer.IssueRefresh("dana", "acme", sig, DefaultRefreshTTL)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := verifier.VerifyRefresh(context.Background(), "acme", refresh.Token)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if len(claims.Capabilities) != 0 {
		t.Fatalf("refresh token must carry no capabilities, got %v", claims.Capabilities)
	}
}

func TestVerifySurvivesRotation(t *testing.T) {
	reg, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)
	verifier := NewTokenVerifier("", reg, clock)
	ctx := context.Background()

	access, err := issuer.IssueAccess("dana", "acme", BaselineCapabilities(), sig, DefaultAccessTTL)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Rotating in a new key must not break tokens signed with the old one.
	if _, err := reg.Add(ctx, "acme"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := verifier.VerifyAccess(ctx, "acme", access.Token); err != nil {
		t.Fatalf("token signed with previous key must verify: %v", err)
	}

	// Invalidating the signing key retires its tokens immediately.
	if err := reg.Invalidate(ctx, "acme", sig.KeyTimestamp); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := verifier.VerifyAccess(ctx, "acme", access.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after invalidation, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	reg, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)

	access, err := issuer.IssueAccess("dana", "acme", nil, sig, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	late := func() time.Time { return clock().Add(2 * time.Minute) }
	verifier := NewTokenVerifier("", reg, late)
	if _, err := verifier.VerifyAccess(context.Background(), "acme", access.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyWrongTenant(t *testing.T) {
	reg, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)
	verifier := NewTokenVerifier("", reg, clock)

	access, err := issuer.IssueAccess("dana", "acme", nil, sig, DefaultAccessTTL)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// The key lookup is scoped by tenant, so a foreign tenant cannot
	// resolve the signature at all.
	if _, err := verifier.VerifyAccess(context.Background(), "other", access.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	reg, _, clock := tokenFixture(t)
	verifier := NewTokenVerifier("", reg, clock)
	ctx := context.Background()

	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := verifier.VerifyAccess(ctx, "acme", token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	_, sig, clock := tokenFixture(t)
	issuer := NewTokenIssuer("", clock)

	if _, err := issuer.IssueAccess("", "acme", nil, sig, DefaultAccessTTL); err == nil {
		t.Fatal("empty subject must fail")
	}
	if _, err := issuer.IssueAccess("dana", "acme", nil, sig, 0); err == nil {
		t.Fatal("non-positive ttl must fail")
	}
	bad := &Signature{TenantID: "acme", KeyTimestamp: "01A", PrivatePEM: "not a key"}
	if _, err := issuer.IssueAccess("dana", "acme", nil, bad, DefaultAccessTTL); err == nil {
		t.Fatal("unparseable private key must fail")
	}
}

func TestGenerateKeyPairParses(t *testing.T) {
	privatePEM, publicPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if _, err := parseRSAPrivateKey(privatePEM); err != nil {
		t.Fatalf("private key does not parse: %v", err)
	}
	if _, err := parseRSAPublicKey(publicPEM); err != nil {
		t.Fatalf("public key does not parse: %v", err)
	}
}
