package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/statecraft/agentmem/core"
)

func newTestEngineParts(store WorkingStore, archive SnapshotArchive) (*LifetimeController, *Snapshotter, *Restorer, *RecoveryCoordinator) {
	cfg := testConfig()
	lc := NewLifetimeController(store, cfg, nil)
	snapper := NewSnapshotter(store, archive, cfg, nil)
	restorer := NewRestorer(store, archive, cfg, nil)
	coord := NewRecoveryCoordinator(store, lc, restorer, cfg, nil)
	return lc, snapper, restorer, coord
}

func TestRecoverLiveStatePresent(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	_, snapper, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()
	seedAgent(t, store, "A1", time.Hour)
	if _, err := snapper.SnapshotOnCheckpoint(ctx, "A1", "ck1", false); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	// Process restarted but fast tier intact: live keys never expired
	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceLiveState {
		t.Errorf("source = %s, want %s", outcome.Source, SourceLiveState)
	}
	if outcome.Verified {
		t.Error("live path must not claim hash verification")
	}

	// The live path re-enters the active window
	_, ttl, err := store.ReadEntry(ctx, "A1", "progress")
	if err != nil {
		t.Fatalf("ReadEntry() failed: %v", err)
	}
	if ttl > testConfig().ActiveWindow {
		t.Errorf("ttl = %v, want at most the active window", ttl)
	}
}

func TestRecoverFallbackPrefersFastTier(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	_, _, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()

	// Fast-tier and durable-tier snapshots deliberately diverge
	fastEntries := map[string]SnapshotEntry{"progress": {Value: ScalarValue("fast-copy")}}
	fastSnap := &Snapshot{
		AgentID:      "A1",
		Entries:      fastEntries,
		CreatedAt:    time.Now(),
		CheckpointID: "ck-fast",
		Tier:         TierFastOnly,
	}
	fastSnap.ContentHash = fastSnap.ComputeHash()
	if err := store.PutSnapshot(ctx, fastSnap, time.Hour); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	durableSnap := &Snapshot{
		AgentID:      "A1",
		Entries:      map[string]SnapshotEntry{"progress": {Value: ScalarValue("durable-copy")}},
		CreatedAt:    time.Now(),
		CheckpointID: "ck-durable",
		Tier:         TierFastDurable,
	}
	durableSnap.ContentHash = durableSnap.ComputeHash()
	if err := archive.Append(ctx, durableSnap); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceFastSnapshot {
		t.Errorf("source = %s, want %s", outcome.Source, SourceFastSnapshot)
	}
	if !outcome.Verified {
		t.Error("snapshot restore must be verified")
	}

	value, _, err := store.ReadEntry(ctx, "A1", "progress")
	if err != nil {
		t.Fatalf("ReadEntry() failed: %v", err)
	}
	if value.Scalar != "fast-copy" {
		t.Errorf("restored value = %q, want the fast-tier copy", value.Scalar)
	}
}

func TestRecoverEmptySnapshotIsFastTierNotNotFound(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	_, snapper, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()

	if _, err := snapper.SnapshotOnCheckpoint(ctx, "A1", "ck1", false); err != nil {
		t.Fatalf("empty snapshot failed: %v", err)
	}

	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceFastSnapshot {
		t.Errorf("source = %s, want %s for an empty snapshot", outcome.Source, SourceFastSnapshot)
	}
	count, _ := store.CountKeys(ctx, "A1")
	if count != 0 {
		t.Errorf("CountKeys() = %d after empty restore, want 0", count)
	}
}

func TestRecoverCorruptedSnapshotFailsLoudly(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	_, snapper, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()
	seedAgent(t, store, "A1", time.Hour)
	if _, err := snapper.SnapshotOnCheckpoint(ctx, "A1", "ck1", false); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	// Simulate the agent going away, then corrupt one captured value
	if _, err := store.DeleteEntries(ctx, "A1"); err != nil {
		t.Fatalf("DeleteEntries() failed: %v", err)
	}
	if !store.CorruptSnapshotEntry("A1", "progress", ScalarValue("corrupted")) {
		t.Fatal("corruption hook missed the target entry")
	}

	_, err := coord.Recover(ctx, "A1")
	if !errors.Is(err, core.ErrRestoreConsistency) {
		t.Fatalf("Recover() error = %v, want chain containing ErrRestoreConsistency", err)
	}

	// No half-restored state may remain
	count, _ := store.CountKeys(ctx, "A1")
	if count != 0 {
		t.Errorf("CountKeys() = %d after failed restore, want 0", count)
	}
}

func TestRecoverDualWriteSurvivesFastTierLoss(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	lc, snapper, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()
	values := seedAgent(t, store, "A1", time.Hour)

	// Pause: widen the window, then dual-write
	if err := lc.ExtendOnPause(ctx, "A1"); err != nil {
		t.Fatalf("ExtendOnPause() failed: %v", err)
	}
	hash, err := snapper.SnapshotOnCheckpoint(ctx, "A1", "ck-pause", true)
	if err != nil {
		t.Fatalf("dual-write snapshot failed: %v", err)
	}

	// Both tiers hold the same content
	fast, err := store.GetSnapshot(ctx, "A1")
	if err != nil {
		t.Fatalf("fast snapshot missing: %v", err)
	}
	durable, err := archive.LatestByAgent(ctx, "A1")
	if err != nil {
		t.Fatalf("durable snapshot missing: %v", err)
	}
	if fast.ContentHash != durable.ContentHash || fast.ContentHash != hash {
		t.Fatalf("tier hashes diverge: fast=%s durable=%s", fast.ContentHash, durable.ContentHash)
	}

	// Total fast-tier data loss
	store.Flush()

	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceDurableSnapshot {
		t.Errorf("source = %s, want %s", outcome.Source, SourceDurableSnapshot)
	}
	if !outcome.Verified {
		t.Error("durable restore must be verified")
	}

	// Exact replica of the original working state
	restored := make(map[string]Value, len(values))
	for key := range values {
		v, _, err := store.ReadEntry(ctx, "A1", key)
		if err != nil {
			t.Fatalf("ReadEntry(%s) failed: %v", key, err)
		}
		restored[key] = v
	}
	if ComputeContentHash(restored) != hash {
		t.Error("restored state does not reproduce the snapshot hash")
	}
}

func TestRecoverCheckpointOnlyStateLostEntirely(t *testing.T) {
	store := NewInMemoryWorkingStore()
	archive := NewInMemoryArchive()
	_, snapper, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()

	// Scenario: checkpoint without dual-write, then the fast tier is
	// flushed entirely. No durable copy was ever requested.
	if err := store.WriteEntry(ctx, "A1", "progress", ScalarValue("step2"), time.Hour); err != nil {
		t.Fatalf("WriteEntry() failed: %v", err)
	}
	if err := store.WriteEntry(ctx, "A1", "scores", ListValue("0.1", "0.2", "0.3"), time.Hour); err != nil {
		t.Fatalf("WriteEntry() failed: %v", err)
	}
	if _, err := snapper.SnapshotOnCheckpoint(ctx, "A1", "ck1", false); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	store.Flush()

	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceNotFound {
		t.Errorf("source = %s, want %s", outcome.Source, SourceNotFound)
	}
}

func TestRecoverUnreachableSnapshotSlotFallsThrough(t *testing.T) {
	inner := NewInMemoryWorkingStore()
	store := &faultStore{WorkingStore: inner, failGetSnapshot: true}
	archive := NewInMemoryArchive()
	_, _, _, coord := newTestEngineParts(store, archive)
	ctx := context.Background()

	durableSnap := &Snapshot{
		AgentID:      "A1",
		Entries:      map[string]SnapshotEntry{"progress": {Value: ScalarValue("durable")}},
		CreatedAt:    time.Now(),
		CheckpointID: "ck1",
		Tier:         TierFastDurable,
	}
	durableSnap.ContentHash = durableSnap.ComputeHash()
	if err := archive.Append(ctx, durableSnap); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	// The fast snapshot slot errors rather than reporting a clean
	// miss; the chain must still advance to the durable tier.
	outcome, err := coord.Recover(ctx, "A1")
	if err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}
	if outcome.Source != SourceDurableSnapshot {
		t.Errorf("source = %s, want %s", outcome.Source, SourceDurableSnapshot)
	}
	value, _, err := store.ReadEntry(ctx, "A1", "progress")
	if err != nil {
		t.Fatalf("ReadEntry() failed: %v", err)
	}
	if value.Scalar != "durable" {
		t.Errorf("restored value = %q, want the durable copy", value.Scalar)
	}
}

func TestRecoveryStateNames(t *testing.T) {
	tests := []struct {
		state recoveryState
		name  string
	}{
		{stateCheckLive, "check-live"},
		{stateTryFastSnapshot, "try-fast-snapshot"},
		{stateTryDurableSnapshot, "try-durable-snapshot"},
		{stateNotFound, "not-found"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("state.String() = %s, want %s", got, tt.name)
		}
	}
}
