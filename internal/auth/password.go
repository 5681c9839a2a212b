package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPasswordExpiresInDays applies when a tenant is configured
	// with a non-positive expiry window.
	DefaultPasswordExpiresInDays = 93

	// DefaultGraceDays applies when a tenant is configured with a
	// non-positive grace window. A zero window would lock force-expired
	// credentials before their first login.
	DefaultGraceDays = 5

	// DefaultIterationCount is the PBKDF2 round count stamped onto newly
	// created credentials. Existing credentials keep the count they were
	// hashed with.
	DefaultIterationCount = 100_000

	digestLength = 32
	saltLength   = 16
)

// Digest is the one-way hash primitive used to derive password digests.
// The salt composition and comparison contract are fixed here; the
// primitive itself is pluggable.
type Digest func(secret, salt []byte, iterations int) []byte

// PBKDF2SHA256 is the default digest.
func PBKDF2SHA256(secret, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, digestLength, sha256.New)
}

// HashSecret derives the stored hash for a secret. The salt is always the
// user's variable salt followed by the tenant's fixed salt.
func HashSecret(d Digest, secret, fixedSalt, variableSalt string, iterations int) string {
	if d == nil {
		d = PBKDF2SHA256
	}
	sum := d([]byte(secret), []byte(variableSalt+fixedSalt), iterations)
	return base64.RawStdEncoding.EncodeToString(sum)
}

// VerifySecret recomputes the digest for a submitted secret and compares
// it to the stored hash in constant time.
func VerifySecret(d Digest, secret, storedHash, fixedSalt, variableSalt string, iterations int) bool {
	if storedHash == "" {
		return false
	}
	computed := HashSecret(d, secret, fixedSalt, variableSalt, iterations)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// NewVariableSalt returns a fresh random per-user salt.
func NewVariableSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(salt), nil
}

// ComputeExpiration returns when a password set now expires. Admin-forced
// passwords expire immediately, pushing the user into the grace window on
// first login until a real password is set.
func ComputeExpiration(now time.Time, forceChange bool, passwordExpiresInDays int) time.Time {
	if forceChange {
		return now
	}
	if passwordExpiresInDays <= 0 {
		passwordExpiresInDays = DefaultPasswordExpiresInDays
	}
	return now.AddDate(0, 0, passwordExpiresInDays)
}

// PasswordState classifies a credential against its expiry at a moment in
// time. Evaluated on every authentication attempt.
type PasswordState int

const (
	// PasswordActive grants the full role-resolved capability set.
	PasswordActive PasswordState = iota
	// PasswordGrace restricts the user to the baseline capabilities.
	PasswordGrace
	// PasswordLocked fails authentication outright.
	PasswordLocked
)

func (s PasswordState) String() string {
	switch s {
	case PasswordActive:
		return "active"
	case PasswordGrace:
		return "grace"
	case PasswordLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// PasswordStateAt evaluates the expiration state machine.
func PasswordStateAt(now, expiresOn time.Time, graceDays int) PasswordState {
	if now.Before(expiresOn) {
		return PasswordActive
	}
	if now.Before(expiresOn.AddDate(0, 0, graceDays)) {
		return PasswordGrace
	}
	return PasswordLocked
}
