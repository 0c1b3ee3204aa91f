package state

import (
	"context"
	"testing"
	"time"
)

func TestVerifyMatchingState(t *testing.T) {
	store := NewInMemoryWorkingStore()
	v := NewVerifier(store, nil)
	ctx := context.Background()
	values := seedAgent(t, store, "A1", time.Hour)
	hash := ComputeContentHash(values)

	ok, err := v.Verify(ctx, "A1", hash, len(values))
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !ok {
		t.Error("Verify() = false for matching state")
	}
}

func TestVerifyCountMismatch(t *testing.T) {
	store := NewInMemoryWorkingStore()
	v := NewVerifier(store, nil)
	ctx := context.Background()
	values := seedAgent(t, store, "A1", time.Hour)
	hash := ComputeContentHash(values)

	ok, err := v.Verify(ctx, "A1", hash, len(values)+1)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if ok {
		t.Error("Verify() = true despite key-count mismatch")
	}
}

func TestVerifyHashMismatch(t *testing.T) {
	store := NewInMemoryWorkingStore()
	v := NewVerifier(store, nil)
	ctx := context.Background()
	values := seedAgent(t, store, "A1", time.Hour)

	// Mutate one live value after computing the expected hash
	hash := ComputeContentHash(values)
	if err := store.WriteEntry(ctx, "A1", "progress", ScalarValue("tampered"), time.Hour); err != nil {
		t.Fatalf("WriteEntry() failed: %v", err)
	}

	ok, err := v.Verify(ctx, "A1", hash, len(values))
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if ok {
		t.Error("Verify() = true despite tampered value")
	}
}

func TestVerifyEmptyState(t *testing.T) {
	store := NewInMemoryWorkingStore()
	v := NewVerifier(store, nil)

	ok, err := v.Verify(context.Background(), "A1", ComputeContentHash(nil), 0)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !ok {
		t.Error("Verify() = false for empty state with empty hash")
	}
}
