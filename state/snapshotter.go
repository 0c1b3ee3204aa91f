package state

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/statecraft/agentmem/core"
	"github.com/statecraft/agentmem/resilience"
	"github.com/statecraft/agentmem/telemetry"
)

// Snapshotter produces a durable, restorable copy of an agent's live
// working state.
//
// Every snapshot goes to the fast tier under the agent's snapshot slot
// with the paused-window TTL, bounding storage growth. When dualWrite
// is set (always on pause events) the same snapshot is additionally
// appended to the durable tier against the external checkpoint record.
// Either write failing fails the call: an unconfirmed checkpoint is
// worse than a loud failure.
type Snapshotter struct {
	store   WorkingStore
	archive SnapshotArchive
	cfg     *core.Config
	retry   *resilience.RetryConfig
	logger  core.Logger
}

// NewSnapshotter creates a snapshotter over the two tiers
func NewSnapshotter(store WorkingStore, archive SnapshotArchive, cfg *core.Config, logger core.Logger) *Snapshotter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Snapshotter{
		store:   store,
		archive: archive,
		cfg:     cfg,
		retry:   resilience.FromConfig(cfg),
		logger:  logger,
	}
}

// SnapshotOnCheckpoint captures the agent's live state and returns the
// snapshot's content hash. Zero live keys is valid: an empty snapshot
// is written and round-trips through restore as "no entries".
func (s *Snapshotter) SnapshotOnCheckpoint(ctx context.Context, agentID, checkpointID string, dualWrite bool) (string, error) {
	start := time.Now()

	if checkpointID == "" {
		checkpointID = "snap-" + uuid.New().String()
	}

	snap, err := s.capture(ctx, agentID, checkpointID, dualWrite)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		s.logger.Error("Snapshot capture failed", map[string]interface{}{
			"operation":     "snapshot_capture",
			"agent_id":      agentID,
			"checkpoint_id": checkpointID,
			"error":         err.Error(),
		})
		return "", err
	}

	// Fast-tier write is mandatory for every checkpoint. A failure
	// here means the snapshot did not happen; the caller retries or
	// escalates rather than proceeding with an unconfirmed write.
	err = resilience.Retry(ctx, s.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.FastTimeout)
		defer cancel()
		return s.store.PutSnapshot(callCtx, snap, s.cfg.PausedWindow)
	})
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		s.logger.Error("Fast-tier snapshot write failed", map[string]interface{}{
			"operation":     "snapshot_fast_write",
			"agent_id":      agentID,
			"checkpoint_id": checkpointID,
			"error":         err.Error(),
		})
		return "", err
	}

	if dualWrite {
		// The point of dual-write on pause is surviving cache loss, so
		// a durable-tier failure is just as fatal as a fast-tier one.
		err = resilience.Retry(ctx, s.retry, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.DurableTimeout)
			defer cancel()
			return s.archive.Append(callCtx, snap)
		})
		if err != nil {
			telemetry.RecordSpanError(ctx, err)
			s.logger.Error("Durable-tier snapshot write failed", map[string]interface{}{
				"operation":     "snapshot_durable_write",
				"agent_id":      agentID,
				"checkpoint_id": checkpointID,
				"error":         err.Error(),
			})
			return "", err
		}
	}

	telemetry.AddSpanEvent(ctx, "snapshot.written",
		attribute.String("agent_id", agentID),
		attribute.String("checkpoint_id", checkpointID),
		attribute.Int("key_count", snap.KeyCount()),
		attribute.Bool("dual_write", dualWrite),
	)
	telemetry.Counter("snapshot.completed", "tier", string(snap.Tier))
	telemetry.Histogram("snapshot.duration_ms", float64(time.Since(start).Milliseconds()), "tier", string(snap.Tier))

	s.logger.Info("Snapshot completed", map[string]interface{}{
		"operation":     "snapshot_complete",
		"agent_id":      agentID,
		"checkpoint_id": checkpointID,
		"key_count":     snap.KeyCount(),
		"content_hash":  snap.ContentHash,
		"dual_write":    dualWrite,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return snap.ContentHash, nil
}

// capture enumerates the agent's live entries and builds the
// point-in-time snapshot, tagging each value with its container shape
// and remaining TTL.
func (s *Snapshotter) capture(ctx context.Context, agentID, checkpointID string, dualWrite bool) (*Snapshot, error) {
	var keys []string
	err := resilience.Retry(ctx, s.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.FastTimeout)
		defer cancel()
		var listErr error
		keys, listErr = s.store.ListKeys(callCtx, agentID)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	entries := make(map[string]SnapshotEntry, len(keys))
	for _, key := range keys {
		var value Value
		var ttl time.Duration
		err := resilience.Retry(ctx, s.retry, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.FastTimeout)
			defer cancel()
			var readErr error
			value, ttl, readErr = s.store.ReadEntry(callCtx, agentID, key)
			return readErr
		})
		if err != nil {
			if errors.Is(err, core.ErrEntryNotFound) {
				// Expired between enumeration and read; not part of
				// the capture.
				continue
			}
			return nil, err
		}
		if err := value.Validate(); err != nil {
			// An unsupported shape fails the snapshot without having
			// touched any other key.
			return nil, &core.StateError{
				Op:      "snapshotter.capture",
				Kind:    "fast-tier",
				AgentID: agentID,
				Err:     err,
			}
		}
		entries[key] = SnapshotEntry{Value: value, RemainingTTLMil: ttl.Milliseconds()}
	}

	tier := TierFastOnly
	if dualWrite {
		tier = TierFastDurable
	}
	snap := &Snapshot{
		AgentID:      agentID,
		Entries:      entries,
		CreatedAt:    time.Now().UTC(),
		CheckpointID: checkpointID,
		Tier:         tier,
	}
	snap.ContentHash = snap.ComputeHash()
	return snap, nil
}
