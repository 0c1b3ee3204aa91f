package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// SnapshotTier records which storage tiers a snapshot was written to
type SnapshotTier string

const (
	// TierFastOnly means the snapshot exists only in the fast tier
	TierFastOnly SnapshotTier = "fast-only"
	// TierFastDurable means the snapshot was dual-written to both tiers
	TierFastDurable SnapshotTier = "fast+durable"
)

// SnapshotEntry is one captured entry: the tagged value plus the TTL
// it had remaining at capture time. The TTL is informational (restore
// always re-enters the active window) and is excluded from the
// content hash for that reason.
type SnapshotEntry struct {
	Value           Value `json:"value"`
	RemainingTTLMil int64 `json:"remaining_ttl_ms"`
}

// Snapshot is an immutable point-in-time capture of all working-state
// entries for one agent. The fast tier keeps only the latest snapshot
// per agent (last writer wins); the durable tier accumulates an
// append-only history keyed by checkpoint ID.
type Snapshot struct {
	AgentID      string                   `json:"agent_id"`
	Entries      map[string]SnapshotEntry `json:"entries"`
	ContentHash  string                   `json:"content_hash"`
	CreatedAt    time.Time                `json:"created_at"`
	CheckpointID string                   `json:"checkpoint_id"`
	Tier         SnapshotTier             `json:"tier"`
}

// RecoverySource identifies which source satisfied a resume request
type RecoverySource string

const (
	SourceLiveState       RecoverySource = "live-state-present"
	SourceFastSnapshot    RecoverySource = "fast-tier-snapshot"
	SourceDurableSnapshot RecoverySource = "durable-tier-snapshot"
	SourceNotFound        RecoverySource = "not-found"
)

// RecoveryOutcome is the transient result of a recovery run. It is
// returned to the orchestrator and never persisted.
type RecoveryOutcome struct {
	AgentID  string         `json:"agent_id"`
	Source   RecoverySource `json:"source"`
	Latency  time.Duration  `json:"latency"`
	Verified bool           `json:"verified"`
}

// ComputeContentHash produces a deterministic digest over a keyed
// value set. Keys are sorted lexicographically and each entry is
// reduced to its canonical form before hashing, so recomputing the
// hash from the same logical state always yields the same value.
// That reproducibility is what makes the hash usable as a correctness
// oracle rather than just a fingerprint.
func ComputeContentHash(values map[string]Value) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v := values[k].canonical()
		// JSON-encode [key, kind, value] as a unit: the array framing
		// and JSON string escaping make the input unambiguous even
		// when keys or members contain separator characters.
		line, err := json.Marshal([]interface{}{k, v.Kind, v})
		if err != nil {
			// Value and its fields are plain strings/floats/maps;
			// Marshal cannot fail on them.
			continue
		}
		h.Write(line)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// values strips snapshot entries down to the keyed value set the
// content hash is defined over.
func (s *Snapshot) values() map[string]Value {
	out := make(map[string]Value, len(s.Entries))
	for k, e := range s.Entries {
		out[k] = e.Value
	}
	return out
}

// ComputeHash recomputes the content hash from the snapshot's entries
func (s *Snapshot) ComputeHash() string {
	return ComputeContentHash(s.values())
}

// KeyCount returns the number of captured entries
func (s *Snapshot) KeyCount() int {
	return len(s.Entries)
}

// Clone returns a deep copy. In-memory stores hand out clones so
// callers can never mutate stored snapshots in place.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Entries = make(map[string]SnapshotEntry, len(s.Entries))
	for k, e := range s.Entries {
		e.Value = e.Value.canonical()
		out.Entries[k] = e
	}
	return &out
}
