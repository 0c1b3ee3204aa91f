package state

import (
	"context"
	"sort"
	"sync"

	"github.com/statecraft/agentmem/core"
)

// InMemoryArchive implements SnapshotArchive in memory for testing and
// local development. Like the Postgres archive it is append-only per
// checkpoint ID and keeps the full per-agent history.
type InMemoryArchive struct {
	mu        sync.RWMutex
	byCheckpt map[string]*Snapshot // checkpointID -> snapshot
}

// NewInMemoryArchive creates an empty in-memory durable tier
func NewInMemoryArchive() *InMemoryArchive {
	return &InMemoryArchive{byCheckpt: make(map[string]*Snapshot)}
}

// Append stores a deep copy of the snapshot under its checkpoint ID
func (m *InMemoryArchive) Append(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCheckpt[snap.CheckpointID] = snap.Clone()
	return nil
}

// LatestByAgent returns the newest archived snapshot for an agent
func (m *InMemoryArchive) LatestByAgent(ctx context.Context, agentID string) (*Snapshot, error) {
	snaps, err := m.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, &core.StateError{
			Op:      "memory.LatestByAgent",
			Kind:    "durable-tier",
			AgentID: agentID,
			Err:     core.ErrSnapshotNotFound,
		}
	}
	return snaps[0], nil
}

// ListByAgent returns the agent's snapshot history, newest first
func (m *InMemoryArchive) ListByAgent(ctx context.Context, agentID string) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Snapshot
	for _, snap := range m.byCheckpt {
		if snap.AgentID == agentID {
			out = append(out, snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Len reports the number of archived snapshots across all agents
func (m *InMemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCheckpt)
}

// Compile-time interface compliance check
var _ SnapshotArchive = (*InMemoryArchive)(nil)
