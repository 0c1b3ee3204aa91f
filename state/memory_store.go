package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/statecraft/agentmem/core"
)

// InMemoryWorkingStore implements WorkingStore in memory. It mirrors
// the Redis store's semantics (per-entry expiry, snapshot slot with
// TTL, last-writer-wins) and is used in tests and local development.
type InMemoryWorkingStore struct {
	mu        sync.RWMutex
	entries   map[string]map[string]memoryEntry // agentID -> key -> entry
	snapshots map[string]memorySnapshot         // agentID -> snapshot slot
	clock     func() time.Time
}

type memoryEntry struct {
	value     Value
	expiresAt time.Time
}

type memorySnapshot struct {
	snap      *Snapshot
	expiresAt time.Time
}

// NewInMemoryWorkingStore creates an empty in-memory fast tier
func NewInMemoryWorkingStore() *InMemoryWorkingStore {
	return &InMemoryWorkingStore{
		entries:   make(map[string]map[string]memoryEntry),
		snapshots: make(map[string]memorySnapshot),
		clock:     time.Now,
	}
}

func (m *InMemoryWorkingStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && m.clock().After(deadline)
}

// ListKeys enumerates live (non-expired) entry keys for an agent
func (m *InMemoryWorkingStore) ListKeys(ctx context.Context, agentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, e := range m.entries[agentID] {
		if m.expired(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// CountKeys returns the number of live entries for an agent
func (m *InMemoryWorkingStore) CountKeys(ctx context.Context, agentID string) (int, error) {
	keys, err := m.ListKeys(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ReadEntry returns an entry's value and remaining TTL
func (m *InMemoryWorkingStore) ReadEntry(ctx context.Context, agentID, key string) (Value, time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[agentID][key]
	if !ok || m.expired(e.expiresAt) {
		return Value{}, 0, &core.StateError{
			Op:      "memory.ReadEntry",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("live entry %q: %w", key, core.ErrEntryNotFound),
		}
	}
	var ttl time.Duration
	if !e.expiresAt.IsZero() {
		ttl = e.expiresAt.Sub(m.clock())
	}
	return e.value.canonical(), ttl, nil
}

// WriteEntry stores an entry, replacing any previous value
func (m *InMemoryWorkingStore) WriteEntry(ctx context.Context, agentID, key string, value Value, ttl time.Duration) error {
	if err := value.Validate(); err != nil {
		return &core.StateError{Op: "memory.WriteEntry", Kind: "fast-tier", AgentID: agentID, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[agentID] == nil {
		m.entries[agentID] = make(map[string]memoryEntry)
	}
	var deadline time.Time
	if ttl > 0 {
		deadline = m.clock().Add(ttl)
	}
	m.entries[agentID][key] = memoryEntry{value: value.canonical(), expiresAt: deadline}
	return nil
}

// DeleteEntries removes all live entries for an agent
func (m *InMemoryWorkingStore) DeleteEntries(ctx context.Context, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries[agentID])
	delete(m.entries, agentID)
	return n, nil
}

// ExpireEntries resets the TTL of every live entry for an agent.
// The map update is atomic under the lock, matching the all-or-nothing
// contract of the interface.
func (m *InMemoryWorkingStore) ExpireEntries(ctx context.Context, agentID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := m.clock().Add(ttl)
	for k, e := range m.entries[agentID] {
		if m.expired(e.expiresAt) {
			continue
		}
		e.expiresAt = deadline
		m.entries[agentID][k] = e
	}
	return nil
}

// PutSnapshot stores a deep copy of the snapshot in the agent's slot
func (m *InMemoryWorkingStore) PutSnapshot(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deadline time.Time
	if ttl > 0 {
		deadline = m.clock().Add(ttl)
	}
	m.snapshots[snap.AgentID] = memorySnapshot{snap: snap.Clone(), expiresAt: deadline}
	return nil
}

// GetSnapshot returns a deep copy of the agent's snapshot
func (m *InMemoryWorkingStore) GetSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.snapshots[agentID]
	if !ok || m.expired(slot.expiresAt) {
		return nil, &core.StateError{
			Op:      "memory.GetSnapshot",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     core.ErrSnapshotNotFound,
		}
	}
	return slot.snap.Clone(), nil
}

// DeleteSnapshot clears the agent's snapshot slot
func (m *InMemoryWorkingStore) DeleteSnapshot(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, agentID)
	return nil
}

// Flush drops every entry and snapshot, simulating total fast-tier
// data loss in tests and local experiments.
func (m *InMemoryWorkingStore) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]map[string]memoryEntry)
	m.snapshots = make(map[string]memorySnapshot)
}

// CorruptSnapshotEntry overwrites one captured value in the stored
// snapshot without touching the recorded hash. Test hook for
// consistency detection.
func (m *InMemoryWorkingStore) CorruptSnapshotEntry(agentID, key string, value Value) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.snapshots[agentID]
	if !ok {
		return false
	}
	e, ok := slot.snap.Entries[key]
	if !ok {
		return false
	}
	e.Value = value
	slot.snap.Entries[key] = e
	return true
}

// Compile-time interface compliance check
var _ WorkingStore = (*InMemoryWorkingStore)(nil)
