package state

import (
	"context"
	"time"
)

// WorkingStore is the fast-tier capability interface: live entry
// access plus the per-agent snapshot slot. Both tiers are external,
// independently-failing services to this engine; implementations wrap
// transport failures in core.ErrStoreUnavailable so the retry layer
// can classify them.
type WorkingStore interface {
	// ListKeys enumerates all live entry keys for an agent
	ListKeys(ctx context.Context, agentID string) ([]string, error)

	// CountKeys returns the number of live entries for an agent
	CountKeys(ctx context.Context, agentID string) (int, error)

	// ReadEntry returns an entry's value and its remaining TTL
	ReadEntry(ctx context.Context, agentID, key string) (Value, time.Duration, error)

	// WriteEntry recreates an entry with its container shape and TTL,
	// replacing any previous value under the same key
	WriteEntry(ctx context.Context, agentID, key string, value Value, ttl time.Duration) error

	// DeleteEntries removes every live entry for an agent and reports
	// how many were removed
	DeleteEntries(ctx context.Context, agentID string) (int, error)

	// ExpireEntries sets the TTL of every live entry for an agent.
	// All matched keys are updated or the call reports failure; it
	// never partially updates a subset and silently succeeds.
	ExpireEntries(ctx context.Context, agentID string, ttl time.Duration) error

	// PutSnapshot stores the agent's snapshot, replacing any prior one
	PutSnapshot(ctx context.Context, snap *Snapshot, ttl time.Duration) error

	// GetSnapshot loads the agent's snapshot, returning an error
	// wrapping core.ErrSnapshotNotFound when none exists
	GetSnapshot(ctx context.Context, agentID string) (*Snapshot, error)

	// DeleteSnapshot removes the agent's snapshot slot
	DeleteSnapshot(ctx context.Context, agentID string) error
}

// SnapshotArchive is the durable-tier capability interface. The
// archive is append-only per checkpoint ID and retained permanently as
// an audit trail even as fast-tier copies expire.
type SnapshotArchive interface {
	// Append stores a snapshot under its checkpoint ID, augmenting the
	// external checkpoint record rather than owning it
	Append(ctx context.Context, snap *Snapshot) error

	// LatestByAgent returns the most recent archived snapshot for an
	// agent, or an error wrapping core.ErrSnapshotNotFound
	LatestByAgent(ctx context.Context, agentID string) (*Snapshot, error)

	// ListByAgent returns the agent's full snapshot history, newest
	// first
	ListByAgent(ctx context.Context, agentID string) ([]*Snapshot, error)
}
