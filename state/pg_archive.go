// PostgreSQL-backed implementation of the durable tier.
//
// The archive augments the external checkpoint record identified by
// checkpoint_id: one row per checkpoint carrying the serialized
// snapshot blob and its content hash. Rows are retained permanently as
// an audit trail; only the newest per agent is used for recovery.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statecraft/agentmem/core"
)

// PostgresArchive implements SnapshotArchive on PostgreSQL
type PostgresArchive struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// NewPostgresArchive creates a Postgres-backed durable tier.
// The pool should already be connected; call EnsureSchema once at
// startup before first use.
func NewPostgresArchive(pool *pgxpool.Pool, logger core.Logger) *PostgresArchive {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PostgresArchive{pool: pool, logger: logger}
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS agent_snapshots (
    checkpoint_id TEXT PRIMARY KEY,
    agent_id      TEXT NOT NULL,
    entries       JSONB NOT NULL,
    content_hash  TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    tier          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_snapshots_agent_created_idx
    ON agent_snapshots (agent_id, created_at DESC);
`

// EnsureSchema creates the archive table and index if missing
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, archiveSchema); err != nil {
		return wrapArchiveError("postgres.EnsureSchema", "", err)
	}
	return nil
}

func wrapArchiveError(op, agentID string, err error) error {
	sentinel := core.ErrStoreUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		sentinel = core.ErrTimeout
	}
	return &core.StateError{
		Op:      op,
		Kind:    "durable-tier",
		AgentID: agentID,
		Err:     fmt.Errorf("%v: %w", err, sentinel),
	}
}

// Append stores a snapshot under its checkpoint ID. Re-appending the
// same checkpoint (a retried pause) upserts rather than duplicating.
func (a *PostgresArchive) Append(ctx context.Context, snap *Snapshot) error {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return &core.StateError{
			Op:      "postgres.Append",
			Kind:    "durable-tier",
			AgentID: snap.AgentID,
			Err:     fmt.Errorf("marshal snapshot entries: %v: %w", err, core.ErrSerialization),
		}
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO agent_snapshots (checkpoint_id, agent_id, entries, content_hash, created_at, tier)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (checkpoint_id) DO UPDATE SET
		   agent_id = EXCLUDED.agent_id,
		   entries = EXCLUDED.entries,
		   content_hash = EXCLUDED.content_hash,
		   created_at = EXCLUDED.created_at,
		   tier = EXCLUDED.tier`,
		snap.CheckpointID, snap.AgentID, entries, snap.ContentHash, createdAt, string(snap.Tier),
	)
	if err != nil {
		return wrapArchiveError("postgres.Append", snap.AgentID, err)
	}

	a.logger.Debug("Snapshot appended to durable tier", map[string]interface{}{
		"operation":     "durable_snapshot_append",
		"agent_id":      snap.AgentID,
		"checkpoint_id": snap.CheckpointID,
		"key_count":     snap.KeyCount(),
	})
	return nil
}

// LatestByAgent returns the most recent archived snapshot for an agent
func (a *PostgresArchive) LatestByAgent(ctx context.Context, agentID string) (*Snapshot, error) {
	row := a.pool.QueryRow(ctx,
		`SELECT checkpoint_id, agent_id, entries, content_hash, created_at, tier
		 FROM agent_snapshots
		 WHERE agent_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		agentID,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.StateError{
				Op:      "postgres.LatestByAgent",
				Kind:    "durable-tier",
				AgentID: agentID,
				Err:     core.ErrSnapshotNotFound,
			}
		}
		return nil, wrapArchiveError("postgres.LatestByAgent", agentID, err)
	}
	return snap, nil
}

// ListByAgent returns the agent's snapshot history, newest first
func (a *PostgresArchive) ListByAgent(ctx context.Context, agentID string) ([]*Snapshot, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT checkpoint_id, agent_id, entries, content_hash, created_at, tier
		 FROM agent_snapshots
		 WHERE agent_id = $1
		 ORDER BY created_at DESC`,
		agentID,
	)
	if err != nil {
		return nil, wrapArchiveError("postgres.ListByAgent", agentID, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrapArchiveError("postgres.ListByAgent", agentID, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapArchiveError("postgres.ListByAgent", agentID, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var entries []byte
	var tier string
	if err := row.Scan(&snap.CheckpointID, &snap.AgentID, &entries, &snap.ContentHash, &snap.CreatedAt, &tier); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entries, &snap.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal archived entries: %w", err)
	}
	snap.Tier = SnapshotTier(tier)
	return &snap, nil
}

// Close releases the connection pool
func (a *PostgresArchive) Close() {
	a.pool.Close()
}

// Compile-time interface compliance check
var _ SnapshotArchive = (*PostgresArchive)(nil)
