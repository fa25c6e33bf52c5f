package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/ledgerlink/internal/session/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestGetContinuationNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetContinuation(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPutGetContinuationRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	input := storage.Continuation{
		Principal:  "2vxsx-fae",
		SealedSeed: []byte{1, 2, 3},
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := store.PutContinuation(context.Background(), input); err != nil {
		t.Fatalf("put continuation: %v", err)
	}

	got, err := store.GetContinuation(context.Background())
	if err != nil {
		t.Fatalf("get continuation: %v", err)
	}
	if got.Principal != input.Principal {
		t.Fatalf("principal = %q, want %q", got.Principal, input.Principal)
	}
	if !bytes.Equal(got.SealedSeed, input.SealedSeed) {
		t.Fatalf("sealed seed = %x, want %x", got.SealedSeed, input.SealedSeed)
	}
	if !got.ExpiresAt.Equal(input.ExpiresAt) || !got.CreatedAt.Equal(input.CreatedAt) {
		t.Fatalf("times = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, input.CreatedAt, input.ExpiresAt)
	}
}

func TestPutContinuationReplaces(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	expires := time.Now().Add(time.Hour)
	for _, principal := range []string{"first", "second"} {
		if err := store.PutContinuation(context.Background(), storage.Continuation{
			Principal: principal, SealedSeed: []byte(principal), ExpiresAt: expires,
		}); err != nil {
			t.Fatalf("put %s: %v", principal, err)
		}
	}
	got, err := store.GetContinuation(context.Background())
	if err != nil {
		t.Fatalf("get continuation: %v", err)
	}
	if got.Principal != "second" {
		t.Fatalf("principal = %q, want second", got.Principal)
	}
}

func TestPutContinuationValidates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	tests := []storage.Continuation{
		{SealedSeed: []byte{1}, ExpiresAt: time.Now()},
		{Principal: "p", ExpiresAt: time.Now()},
		{Principal: "p", SealedSeed: []byte{1}},
	}
	for i, c := range tests {
		if err := store.PutContinuation(context.Background(), c); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestDeleteContinuation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.DeleteContinuation(context.Background()); err != nil {
		t.Fatalf("delete empty store: %v", err)
	}
	if err := store.PutContinuation(context.Background(), storage.Continuation{
		Principal: "p", SealedSeed: []byte{1}, ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("put continuation: %v", err)
	}
	if err := store.DeleteContinuation(context.Background()); err != nil {
		t.Fatalf("delete continuation: %v", err)
	}
	if _, err := store.GetContinuation(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestContinuationExpired(t *testing.T) {
	now := time.Now()
	if (storage.Continuation{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Fatal("future expiry reported expired")
	}
	if !(storage.Continuation{ExpiresAt: now}).Expired(now) {
		t.Fatal("expiry at now not reported expired")
	}
}
