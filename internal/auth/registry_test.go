package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func putSignature(t *testing.T, store Store, tenantID, keyTimestamp string, valid bool, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	err := store.Signatures(ctx).Put(ctx, &Signature{
		TenantID:     tenantID,
		KeyTimestamp: keyTimestamp,
		PublicPEM:    "pub-" + keyTimestamp,
		PrivatePEM:   "priv-" + keyTimestamp,
		Valid:        valid,
		CreatedAt:    createdAt,
	})
	if err != nil {
		t.Fatalf("put signature: %v", err)
	}
}

func TestRegistryCurrentPicksNewestValid(t *testing.T) {
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)
	now := time.Now()

	putSignature(t, store, "acme", "01A", true, now.Add(-3*time.Hour))
	putSignature(t, store, "acme", "01B", true, now.Add(-2*time.Hour))
	putSignature(t, store, "acme", "01C", false, now.Add(-time.Hour))

	sig, err := reg.Current(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if sig.KeyTimestamp != "01B" {
		t.Fatalf("expected newest valid key 01B, got %s", sig.KeyTimestamp)
	}
}

func TestRegistryCurrentNoValidSignature(t *testing.T) {
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)

	if _, err := reg.Current(context.Background(), "acme"); !errors.Is(err, ErrNoValidSignature) {
		t.Fatalf("expected ErrNoValidSignature, got %v", err)
	}

	putSignature(t, store, "acme", "01A", false, time.Now())
	if _, err := reg.Current(context.Background(), "acme"); !errors.Is(err, ErrNoValidSignature) {
		t.Fatalf("expected ErrNoValidSignature with only invalid keys, got %v", err)
	}
}

func TestRegistryAdd(t *testing.T) {
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)
	ctx := context.Background()

	first, err := reg.Add(ctx, "acme")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !first.Valid || first.KeyTimestamp == "" || first.PublicPEM == "" || first.PrivatePEM == "" {
		t.Fatalf("incomplete signature: %+v", first)
	}

	second, err := reg.Add(ctx, "acme")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if second.KeyTimestamp <= first.KeyTimestamp {
		t.Fatalf("key timestamps must be strictly increasing: %s then %s", first.KeyTimestamp, second.KeyTimestamp)
	}

	current, err := reg.Current(ctx, "acme")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.KeyTimestamp != second.KeyTimestamp {
		t.Fatalf("newest key must become current, got %s", current.KeyTimestamp)
	}
}

func TestRegistryInvalidate(t *testing.T) {
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)
	ctx := context.Background()

	putSignature(t, store, "acme", "01A", true, time.Now())

	if err := reg.Invalidate(ctx, "acme", "01A"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	sig, err := reg.Get(ctx, "acme", "01A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sig.Valid {
		t.Fatal("signature must be invalid after Invalidate")
	}

	// Idempotent on an already-invalid key.
	if err := reg.Invalidate(ctx, "acme", "01A"); err != nil {
		t.Fatalf("second Invalidate: %v", err)
	}

	if err := reg.Invalidate(ctx, "acme", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryValidTimestamps(t *testing.T) {
	store := NewMemoryStore()
	reg := NewSignatureRegistry(store)
	now := time.Now()

	putSignature(t, store, "acme", "01C", true, now)
	putSignature(t, store, "acme", "01A", true, now.Add(-2*time.Hour))
	putSignature(t, store, "acme", "01B", false, now.Add(-time.Hour))
	putSignature(t, store, "other", "01Z", true, now)

	got, err := reg.ValidTimestamps(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ValidTimestamps: %v", err)
	}
	if want := []string{"01A", "01C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSignaturePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	putSignature(t, store, "acme", "01A", false, now.Add(-48*time.Hour))
	putSignature(t, store, "acme", "01B", false, now.Add(-time.Hour))
	putSignature(t, store, "acme", "01C", true, now.Add(-48*time.Hour))

	if err := store.Signatures(ctx).PurgeInvalidatedBefore(ctx, "acme", now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if _, err := store.Signatures(ctx).Find(ctx, "acme", "01A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old invalidated key must be gone, got %v", err)
	}
	if _, err := store.Signatures(ctx).Find(ctx, "acme", "01B"); err != nil {
		t.Fatalf("recent invalidated key must survive: %v", err)
	}
	if _, err := store.Signatures(ctx).Find(ctx, "acme", "01C"); err != nil {
		t.Fatalf("valid key must survive: %v", err)
	}
}
