package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer distinguishes this service's tokens from unrelated
	// bearer tokens at the wire boundary.
	DefaultIssuer = "pharos"

	// DefaultAccessTTL and DefaultRefreshTTL apply when the engine is
	// constructed without explicit TTL options.
	DefaultAccessTTL  = 20 * time.Minute
	DefaultRefreshTTL = 15 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the payload carried by pharos access and refresh tokens.
// Refresh tokens carry no capability list: capabilities are recomputed on
// every refresh so role changes take effect without re-login.
type Claims struct {
	TokenType    string              `json:"token_type"`
	TenantID     string              `json:"tid"`
	Capabilities map[string][]string `json:"cap,omitempty"`
	jwt.RegisteredClaims
}

// SignedToken is an issued token with its expiry.
type SignedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer builds and signs tokens with a tenant's current signature.
type TokenIssuer struct {
	issuer string
	now    func() time.Time
}

// NewTokenIssuer builds an issuer stamping the given issuer claim.
func NewTokenIssuer(issuer string, now func() time.Time) *TokenIssuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{issuer: issuer, now: now}
}

// IssueAccess signs an access token embedding the resolved capabilities
// and the signing key's version. A non-positive TTL is a programming
// error, not a recoverable condition.
func (ti *TokenIssuer) IssueAccess(subject, tenantID string, caps CapabilitySet, sig *Signature, ttl time.Duration) (SignedToken, error) {
	return ti.issue(subject, tenantID, caps.Claims(), tokenTypeAccess, sig, ttl)
}

// IssueRefresh signs a refresh token carrying only the subject, tenant
// and key version.
func (ti *TokenIssuer) IssueRefresh(subject, tenantID string, sig *Signature, ttl time.Duration) (SignedToken, error) {
	return ti.issue(subject, tenantID, nil, tokenTypeRefresh, sig, ttl)
}

func (ti *TokenIssuer) issue(subject, tenantID string, caps map[string][]string, tokenType string, sig *Signature, ttl time.Duration) (SignedToken, error) {
	if strings.TrimSpace(subject) == "" {
		return SignedToken{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		return SignedToken{}, errors.New("ttl must be greater than zero")
	}
	key, err := parseRSAPrivateKey(sig.PrivatePEM)
	if err != nil {
		return SignedToken{}, fmt.Errorf("parse signing key: %w", err)
	}

	now := ti.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType:    tokenType,
		TenantID:     tenantID,
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = sig.KeyTimestamp
	signed, err := token.SignedString(key)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return SignedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// TokenVerifier parses and validates tokens against the signature
// registry. Signing keys are resolved per token via the embedded key
// version so tokens signed before a rotation keep verifying.
type TokenVerifier struct {
	issuer   string
	registry *SignatureRegistry
	now      func() time.Time
}

// NewTokenVerifier builds a verifier bound to the registry.
func NewTokenVerifier(issuer string, registry *SignatureRegistry, now func() time.Time) *TokenVerifier {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if now == nil {
		now = time.Now
	}
	return &TokenVerifier{issuer: issuer, registry: registry, now: now}
}

// VerifyRefresh validates a refresh token for the tenant and returns its
// claims. Malformed tokens, unknown or retired key versions, signature
// mismatches and expired tokens all collapse into ErrInvalidToken.
func (tv *TokenVerifier) VerifyRefresh(ctx context.Context, tenantID, token string) (*Claims, error) {
	return tv.verify(ctx, tenantID, token, tokenTypeRefresh)
}

// VerifyAccess validates an access token for the tenant.
func (tv *TokenVerifier) VerifyAccess(ctx context.Context, tenantID, token string) (*Claims, error) {
	return tv.verify(ctx, tenantID, token, tokenTypeAccess)
}

func (tv *TokenVerifier) verify(ctx context.Context, tenantID, token, tokenType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrInvalidToken
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrInvalidToken
		}
		sig, err := tv.registry.Get(ctx, tenantID, kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		if !sig.Valid {
			return nil, ErrInvalidToken
		}
		return parseRSAPublicKey(sig.PublicPEM)
	},
		jwt.WithTimeFunc(tv.now),
		jwt.WithIssuer(tv.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	if claims.TenantID != tenantID {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
