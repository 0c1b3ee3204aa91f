package state

import (
	"context"
	"errors"

	"github.com/statecraft/agentmem/core"
)

// Verifier confirms that an agent's live state matches an expected
// content hash. It has no state of its own: it is a pure function over
// the store's current contents plus a target hash.
type Verifier struct {
	store  WorkingStore
	logger core.Logger
}

// NewVerifier creates a verifier over the fast tier
func NewVerifier(store WorkingStore, logger core.Logger) *Verifier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Verifier{store: store, logger: logger}
}

// Verify re-reads the agent's live entries, recomputes the content
// hash with the same deterministic sorted-key algorithm as the
// snapshotter, and compares it to the expected hash. The key count is
// checked first so a partial restore is caught even in the unlikely
// event of a hash collision.
func (v *Verifier) Verify(ctx context.Context, agentID, expectedHash string, expectedCount int) (bool, error) {
	keys, err := v.store.ListKeys(ctx, agentID)
	if err != nil {
		return false, err
	}

	if len(keys) != expectedCount {
		v.logger.Warn("Key count mismatch", map[string]interface{}{
			"operation":      "verify_count",
			"agent_id":       agentID,
			"expected_count": expectedCount,
			"actual_count":   len(keys),
		})
		return false, nil
	}

	values := make(map[string]Value, len(keys))
	for _, key := range keys {
		value, _, err := v.store.ReadEntry(ctx, agentID, key)
		if err != nil {
			if errors.Is(err, core.ErrEntryNotFound) {
				// A key vanished mid-verification; the state no longer
				// matches the capture.
				return false, nil
			}
			return false, err
		}
		values[key] = value
	}

	actualHash := ComputeContentHash(values)
	if actualHash != expectedHash {
		v.logger.Warn("Content hash mismatch", map[string]interface{}{
			"operation":     "verify_hash",
			"agent_id":      agentID,
			"expected_hash": expectedHash,
			"actual_hash":   actualHash,
			"key_count":     len(keys),
		})
		return false, nil
	}
	return true, nil
}
