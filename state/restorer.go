package state

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/statecraft/agentmem/core"
	"github.com/statecraft/agentmem/resilience"
	"github.com/statecraft/agentmem/telemetry"
)

// TierID names a snapshot source tier for a targeted restore
type TierID string

const (
	// FastTier targets the per-agent fast-tier snapshot slot
	FastTier TierID = "fast"
	// DurableTier targets the newest durable-tier archive entry
	DurableTier TierID = "durable"
)

// Restorer reconstructs live state from a snapshot.
//
// Restore is all-or-nothing from the caller's perspective: either the
// agent ends up with an exact, verified replica of the snapshot, or
// the call fails loudly with no live entries left in an ambiguous
// half-restored state.
type Restorer struct {
	store    WorkingStore
	archive  SnapshotArchive
	verifier *Verifier
	cfg      *core.Config
	retry    *resilience.RetryConfig
	logger   core.Logger
}

// NewRestorer creates a restorer over the two tiers
func NewRestorer(store WorkingStore, archive SnapshotArchive, cfg *core.Config, logger core.Logger) *Restorer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Restorer{
		store:    store,
		archive:  archive,
		verifier: NewVerifier(store, logger),
		cfg:      cfg,
		retry:    resilience.FromConfig(cfg),
		logger:   logger,
	}
}

// Restore loads the agent's snapshot from the targeted tier and
// rebuilds live state from it. Entries are recreated with their
// original container shapes at the active window, since resumption
// always re-enters active phase. The just-restored state is verified
// against the snapshot's recorded hash before the call returns.
func (r *Restorer) Restore(ctx context.Context, agentID string, tier TierID) (*Snapshot, error) {
	snap, err := r.load(ctx, agentID, tier)
	if err != nil {
		return nil, err
	}

	// Clear stale live entries before writing anything: a mix of old
	// and newly-restored values under the same namespace would defeat
	// the point of restoring a consistent point-in-time state.
	err = resilience.Retry(ctx, r.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.FastTimeout)
		defer cancel()
		_, delErr := r.store.DeleteEntries(callCtx, agentID)
		return delErr
	})
	if err != nil {
		return nil, err
	}

	for key, entry := range snap.Entries {
		key, entry := key, entry
		err = resilience.Retry(ctx, r.retry, func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.FastTimeout)
			defer cancel()
			return r.store.WriteEntry(callCtx, agentID, key, entry.Value, r.cfg.ActiveWindow)
		})
		if err != nil {
			r.cleanup(ctx, agentID)
			return nil, err
		}
	}

	ok, err := r.verifier.Verify(ctx, agentID, snap.ContentHash, snap.KeyCount())
	if err != nil {
		r.cleanup(ctx, agentID)
		return nil, err
	}
	if !ok {
		// Failed verification clears the live namespace so no
		// falsely-trusted, half-restored state survives the error.
		r.cleanup(ctx, agentID)
		err := &core.StateError{
			Op:      "restorer.Restore",
			Kind:    string(tier) + "-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("restored state does not match snapshot hash %s: %w", snap.ContentHash, core.ErrRestoreConsistency),
		}
		telemetry.RecordSpanError(ctx, err)
		return nil, err
	}

	telemetry.AddSpanEvent(ctx, "restore.verified",
		attribute.String("agent_id", agentID),
		attribute.String("tier", string(tier)),
		attribute.Int("key_count", snap.KeyCount()),
	)
	r.logger.Info("Restore completed", map[string]interface{}{
		"operation":     "restore_complete",
		"agent_id":      agentID,
		"tier":          string(tier),
		"checkpoint_id": snap.CheckpointID,
		"key_count":     snap.KeyCount(),
	})
	return snap, nil
}

// load fetches the snapshot from the targeted tier. The chain never
// merges tiers: exactly one source feeds a restore.
func (r *Restorer) load(ctx context.Context, agentID string, tier TierID) (*Snapshot, error) {
	var snap *Snapshot
	var err error
	switch tier {
	case FastTier:
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.FastTimeout)
		defer cancel()
		snap, err = r.store.GetSnapshot(callCtx, agentID)
	case DurableTier:
		err = resilience.Retry(ctx, r.retry, func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.DurableTimeout)
			defer cancel()
			var loadErr error
			snap, loadErr = r.archive.LatestByAgent(callCtx, agentID)
			return loadErr
		})
	default:
		return nil, &core.StateError{
			Op:      "restorer.load",
			Kind:    "restore",
			AgentID: agentID,
			Err:     fmt.Errorf("unknown tier %q: %w", tier, core.ErrInvalidConfiguration),
		}
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// cleanup best-effort clears the agent's live namespace after a failed
// restore. The restore error itself is what propagates; a cleanup
// failure is logged but cannot mask it.
func (r *Restorer) cleanup(ctx context.Context, agentID string) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.FastTimeout)
	defer cancel()
	if _, err := r.store.DeleteEntries(callCtx, agentID); err != nil {
		r.logger.Warn("Failed to clear live entries after failed restore", map[string]interface{}{
			"operation": "restore_cleanup",
			"agent_id":  agentID,
			"error":     err.Error(),
		})
	}
}
