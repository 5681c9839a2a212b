package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pharos.id/internal/ids"
)

// SignatureRegistry selects, rotates and retires a tenant's signing keys.
// Every query hits the store fresh so current-key selection stays correct
// across concurrent rotations and process restarts; nothing is cached.
type SignatureRegistry struct {
	store Store
	now   func() time.Time
}

// NewSignatureRegistry builds a registry over the store.
func NewSignatureRegistry(store Store) *SignatureRegistry {
	return &SignatureRegistry{store: store, now: time.Now}
}

// Current returns the valid signature with the greatest key timestamp.
// Zero valid signatures is a fatal misconfiguration for authentication.
func (r *SignatureRegistry) Current(ctx context.Context, tenantID string) (*Signature, error) {
	sigs, err := r.store.Signatures(ctx).ScanByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("scan signatures: %w", err)
	}
	var current *Signature
	for _, sig := range sigs {
		if !sig.Valid {
			continue
		}
		if current == nil || strings.Compare(sig.KeyTimestamp, current.KeyTimestamp) > 0 {
			current = sig
		}
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoValidSignature, tenantID)
	}
	return current, nil
}

// Get resolves a signature by its key timestamp, valid or not. Verifiers
// must still honor the Valid flag.
func (r *SignatureRegistry) Get(ctx context.Context, tenantID, keyTimestamp string) (*Signature, error) {
	return r.store.Signatures(ctx).Find(ctx, tenantID, keyTimestamp)
}

// Add generates a fresh key pair and stores it as valid, making it the
// current signing key for all future issuance. Prior signatures are left
// untouched; callers invalidate them once no outstanding token can still
// reference them.
func (r *SignatureRegistry) Add(ctx context.Context, tenantID string) (*Signature, error) {
	privatePEM, publicPEM, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	sig := &Signature{
		TenantID:     tenantID,
		KeyTimestamp: ids.New(),
		PublicPEM:    publicPEM,
		PrivatePEM:   privatePEM,
		Valid:        true,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.store.Signatures(ctx).Put(ctx, sig); err != nil {
		return nil, fmt.Errorf("store signature: %w", err)
	}
	return sig, nil
}

// Invalidate soft-deletes a signature. The key material stays resolvable
// for verification bookkeeping; physical deletion is a separate, operator
// driven purge.
func (r *SignatureRegistry) Invalidate(ctx context.Context, tenantID, keyTimestamp string) error {
	sig, err := r.store.Signatures(ctx).Find(ctx, tenantID, keyTimestamp)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("find signature: %w", err)
	}
	if !sig.Valid {
		return nil
	}
	sig.Valid = false
	if err := r.store.Signatures(ctx).Put(ctx, sig); err != nil {
		return fmt.Errorf("store signature: %w", err)
	}
	return nil
}

// ValidTimestamps lists the key timestamps of all valid signatures in
// ascending order.
func (r *SignatureRegistry) ValidTimestamps(ctx context.Context, tenantID string) ([]string, error) {
	sigs, err := r.store.Signatures(ctx).ScanByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("scan signatures: %w", err)
	}
	var out []string
	for _, sig := range sigs {
		if sig.Valid {
			out = append(out, sig.KeyTimestamp)
		}
	}
	sort.Strings(out)
	return out, nil
}
