package auth

import "errors"

var (
	// ErrAuthenticationFailed covers unknown user, wrong secret and a
	// password locked past its grace window. Callers get no signal which
	// of the three happened.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrInvalidToken indicates a malformed, expired, mis-issued or
	// unverifiable token. Recoverable by re-authenticating.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrNoValidSignature means the tenant has no valid signing key.
	// This is a server-side misconfiguration, never a client error.
	ErrNoValidSignature = errors.New("auth: no valid signature for tenant")

	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrAlreadyProvisioned = errors.New("auth: tenant already provisioned")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrReservedRole       = errors.New("auth: role identifier is reserved")
)
