// Package state implements the working-memory durability and recovery
// engine: snapshotting an agent's live fast-tier state, restoring it
// with verified integrity, and coordinating recovery across tiers.
package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/statecraft/agentmem/core"
)

// ValueKind tags which of the five supported container shapes a value
// holds. The set is closed: serialization is exhaustive over these
// kinds and restore rejects anything else loudly instead of guessing.
type ValueKind string

const (
	// KindScalar is a single string value
	KindScalar ValueKind = "scalar"
	// KindList is an ordered list of strings
	KindList ValueKind = "list"
	// KindSet is an unordered set of unique members
	KindSet ValueKind = "set"
	// KindHash is a field-to-value map
	KindHash ValueKind = "hash"
	// KindScoreMap is an ordered member-to-score map
	KindScoreMap ValueKind = "score-map"
)

// Valid reports whether the kind is one of the five supported shapes
func (k ValueKind) Valid() bool {
	switch k {
	case KindScalar, KindList, KindSet, KindHash, KindScoreMap:
		return true
	}
	return false
}

// ScoredMember is one member of a score-map value
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Value is a tagged variant holding exactly one of the five container
// shapes. The Kind tag is what allows exact reconstruction on restore;
// a naive byte copy would lose the distinction between, say, an
// ordered list and a field-map.
type Value struct {
	Kind     ValueKind         `json:"kind"`
	Scalar   string            `json:"scalar,omitempty"`
	List     []string          `json:"list,omitempty"`
	Set      []string          `json:"set,omitempty"`
	Hash     map[string]string `json:"hash,omitempty"`
	ScoreMap []ScoredMember    `json:"score_map,omitempty"`
}

// ScalarValue builds a scalar value
func ScalarValue(s string) Value {
	return Value{Kind: KindScalar, Scalar: s}
}

// ListValue builds an ordered list value
func ListValue(items ...string) Value {
	return Value{Kind: KindList, List: items}
}

// SetValue builds an unordered set value
func SetValue(members ...string) Value {
	return Value{Kind: KindSet, Set: members}
}

// HashValue builds a field-map value
func HashValue(fields map[string]string) Value {
	return Value{Kind: KindHash, Hash: fields}
}

// ScoreMapValue builds an ordered score-map value
func ScoreMapValue(members ...ScoredMember) Value {
	return Value{Kind: KindScoreMap, ScoreMap: members}
}

// Validate rejects values whose kind is outside the closed set
func (v Value) Validate() error {
	if !v.Kind.Valid() {
		return fmt.Errorf("value kind %q is not one of the five supported shapes: %w", v.Kind, core.ErrSerialization)
	}
	return nil
}

// canonical returns a copy with order-independent containers sorted so
// two captures of the same logical value always serialize identically.
// Sets are sorted lexicographically; score-maps are sorted by member
// name (Redis iteration order for equal scores is member order anyway).
// Lists and hashes keep their own semantics: list order is data, and
// hash fields are sorted at JSON encoding time by encoding/json.
func (v Value) canonical() Value {
	out := v
	if len(v.Set) > 0 {
		out.Set = append([]string(nil), v.Set...)
		sort.Strings(out.Set)
	}
	if len(v.ScoreMap) > 0 {
		out.ScoreMap = append([]ScoredMember(nil), v.ScoreMap...)
		sort.Slice(out.ScoreMap, func(i, j int) bool {
			return out.ScoreMap[i].Member < out.ScoreMap[j].Member
		})
	}
	if len(v.List) > 0 {
		out.List = append([]string(nil), v.List...)
	}
	if len(v.Hash) > 0 {
		out.Hash = make(map[string]string, len(v.Hash))
		for k, val := range v.Hash {
			out.Hash[k] = val
		}
	}
	return out
}

// WorkingStateEntry is a single named value owned by exactly one agent
// instance. Keys are unique within the agent namespace.
type WorkingStateEntry struct {
	AgentID   string    `json:"agent_id"`
	Key       string    `json:"key"`
	Value     Value     `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}
