package state

import (
	"context"
	"fmt"
	"time"

	"github.com/statecraft/agentmem/core"
)

// testConfig returns a config with a minimal retry budget so failure
// tests do not sit in backoff sleeps.
func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

func unavailable(op string) error {
	return &core.StateError{Op: op, Kind: "fast-tier", Err: fmt.Errorf("connection refused: %w", core.ErrStoreUnavailable)}
}

// faultStore wraps a WorkingStore and fails selected operations,
// simulating an unreachable or flaky fast tier.
type faultStore struct {
	WorkingStore
	failExpire      bool
	failPutSnapshot bool
	failGetSnapshot bool
	failList        bool
}

func (f *faultStore) ExpireEntries(ctx context.Context, agentID string, ttl time.Duration) error {
	if f.failExpire {
		return unavailable("fault.ExpireEntries")
	}
	return f.WorkingStore.ExpireEntries(ctx, agentID, ttl)
}

func (f *faultStore) PutSnapshot(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	if f.failPutSnapshot {
		return unavailable("fault.PutSnapshot")
	}
	return f.WorkingStore.PutSnapshot(ctx, snap, ttl)
}

func (f *faultStore) GetSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	if f.failGetSnapshot {
		return nil, unavailable("fault.GetSnapshot")
	}
	return f.WorkingStore.GetSnapshot(ctx, agentID)
}

func (f *faultStore) ListKeys(ctx context.Context, agentID string) ([]string, error) {
	if f.failList {
		return nil, unavailable("fault.ListKeys")
	}
	return f.WorkingStore.ListKeys(ctx, agentID)
}

func (f *faultStore) CountKeys(ctx context.Context, agentID string) (int, error) {
	if f.failList {
		return 0, unavailable("fault.CountKeys")
	}
	return f.WorkingStore.CountKeys(ctx, agentID)
}

// faultArchive wraps a SnapshotArchive and fails appends, simulating
// an unreachable durable tier during a mandatory dual-write.
type faultArchive struct {
	SnapshotArchive
	failAppend bool
}

func (f *faultArchive) Append(ctx context.Context, snap *Snapshot) error {
	if f.failAppend {
		return &core.StateError{Op: "fault.Append", Kind: "durable-tier", Err: fmt.Errorf("connection refused: %w", core.ErrStoreUnavailable)}
	}
	return f.SnapshotArchive.Append(ctx, snap)
}

// badKindStore reports a key whose value carries a kind outside the
// closed set, exercising the serialization error path.
type badKindStore struct {
	WorkingStore
	badKey string
}

func (b *badKindStore) ReadEntry(ctx context.Context, agentID, key string) (Value, time.Duration, error) {
	if key == b.badKey {
		return Value{Kind: ValueKind("blob")}, 0, nil
	}
	return b.WorkingStore.ReadEntry(ctx, agentID, key)
}

// seedAgent writes a representative spread of the five container
// shapes into a store.
func seedAgent(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, store WorkingStore, agentID string, ttl time.Duration) map[string]Value {
	t.Helper()
	ctx := context.Background()
	values := map[string]Value{
		"progress": ScalarValue("step2"),
		"queue":    ListValue("parse", "score", "publish"),
		"seen":     SetValue("doc-9", "doc-3", "doc-5"),
		"fields":   HashValue(map[string]string{"ticker": "ACME", "period": "FY2025"}),
		"scores": ScoreMapValue(
			ScoredMember{Member: "relevance", Score: 0.81},
			ScoredMember{Member: "confidence", Score: 0.64},
		),
	}
	for k, v := range values {
		if err := store.WriteEntry(ctx, agentID, k, v, ttl); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	return values
}
