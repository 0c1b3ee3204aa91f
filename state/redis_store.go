// Redis-backed implementation of the fast tier.
//
// Live entries are stored as native Redis containers so the working
// state stays directly usable by the agent between checkpoints:
//
//	scalar    -> STRING
//	list      -> LIST
//	set       -> SET
//	hash      -> HASH
//	score-map -> ZSET
//
// Key layout (per agent):
//   - Live entry:   {prefix}:{agent_id}:state:{key}
//   - Snapshot:     {prefix}:{agent_id}:snapshot:data
//   - Snapshot meta: {prefix}:{agent_id}:snapshot:meta
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/statecraft/agentmem/core"
)

// RedisWorkingStore implements WorkingStore on Redis
type RedisWorkingStore struct {
	rc     *core.RedisClient
	logger core.Logger
}

// NewRedisWorkingStore creates a Redis-backed fast tier store.
// The client should already be connected.
func NewRedisWorkingStore(rc *core.RedisClient, logger core.Logger) *RedisWorkingStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisWorkingStore{rc: rc, logger: logger}
}

func (s *RedisWorkingStore) entryKey(agentID, key string) string {
	return s.rc.Key(agentID, "state", key)
}

func (s *RedisWorkingStore) entryPrefix(agentID string) string {
	return s.rc.Key(agentID, "state") + ":"
}

func (s *RedisWorkingStore) snapshotDataKey(agentID string) string {
	return s.rc.Key(agentID, "snapshot", "data")
}

func (s *RedisWorkingStore) snapshotMetaKey(agentID string) string {
	return s.rc.Key(agentID, "snapshot", "meta")
}

// wrapTierError classifies a Redis error for the retry layer
func wrapTierError(op, agentID string, err error) error {
	sentinel := core.ErrStoreUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		sentinel = core.ErrTimeout
	}
	return &core.StateError{
		Op:      op,
		Kind:    "fast-tier",
		AgentID: agentID,
		Err:     fmt.Errorf("%v: %w", err, sentinel),
	}
}

// ListKeys enumerates live entry keys via SCAN so a large namespace
// never blocks the server the way KEYS would.
func (s *RedisWorkingStore) ListKeys(ctx context.Context, agentID string) ([]string, error) {
	prefix := s.entryPrefix(agentID)
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rc.Client().Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, wrapTierError("redis.ListKeys", agentID, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// CountKeys returns the number of live entries for the agent
func (s *RedisWorkingStore) CountKeys(ctx context.Context, agentID string) (int, error) {
	keys, err := s.ListKeys(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ReadEntry reads a live entry with its container shape and remaining
// TTL. The TYPE of the Redis key is the source of truth for the kind.
func (s *RedisWorkingStore) ReadEntry(ctx context.Context, agentID, key string) (Value, time.Duration, error) {
	rkey := s.entryKey(agentID, key)
	client := s.rc.Client()

	kind, err := client.Type(ctx, rkey).Result()
	if err != nil {
		return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
	}

	var value Value
	switch kind {
	case "none":
		// Expired between enumeration and read
		return Value{}, 0, &core.StateError{
			Op:      "redis.ReadEntry",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("live entry %q: %w", key, core.ErrEntryNotFound),
		}
	case "string":
		v, err := client.Get(ctx, rkey).Result()
		if err != nil {
			return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
		}
		value = ScalarValue(v)
	case "list":
		items, err := client.LRange(ctx, rkey, 0, -1).Result()
		if err != nil {
			return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
		}
		value = ListValue(items...)
	case "set":
		members, err := client.SMembers(ctx, rkey).Result()
		if err != nil {
			return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
		}
		value = SetValue(members...)
	case "hash":
		fields, err := client.HGetAll(ctx, rkey).Result()
		if err != nil {
			return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
		}
		value = HashValue(fields)
	case "zset":
		zs, err := client.ZRangeWithScores(ctx, rkey, 0, -1).Result()
		if err != nil {
			return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
		}
		members := make([]ScoredMember, 0, len(zs))
		for _, z := range zs {
			member, _ := z.Member.(string)
			members = append(members, ScoredMember{Member: member, Score: z.Score})
		}
		value = ScoreMapValue(members...)
	default:
		return Value{}, 0, &core.StateError{
			Op:      "redis.ReadEntry",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("redis type %q for key %q: %w", kind, key, core.ErrSerialization),
		}
	}

	ttl, err := client.PTTL(ctx, rkey).Result()
	if err != nil {
		return Value{}, 0, wrapTierError("redis.ReadEntry", agentID, err)
	}
	if ttl < 0 {
		// -1 means no expiry set; report as zero remaining TTL
		ttl = 0
	}
	return value, ttl, nil
}

// WriteEntry recreates an entry as its native container type. The
// delete plus rebuild runs in one transaction so concurrent readers
// never observe a half-written container.
func (s *RedisWorkingStore) WriteEntry(ctx context.Context, agentID, key string, value Value, ttl time.Duration) error {
	if err := value.Validate(); err != nil {
		return &core.StateError{Op: "redis.WriteEntry", Kind: "fast-tier", AgentID: agentID, Err: err}
	}
	rkey := s.entryKey(agentID, key)

	pipe := s.rc.Client().TxPipeline()
	pipe.Del(ctx, rkey)
	switch value.Kind {
	case KindScalar:
		pipe.Set(ctx, rkey, value.Scalar, ttl)
	case KindList:
		if len(value.List) > 0 {
			args := make([]interface{}, len(value.List))
			for i, v := range value.List {
				args[i] = v
			}
			pipe.RPush(ctx, rkey, args...)
		}
		pipe.PExpire(ctx, rkey, ttl)
	case KindSet:
		if len(value.Set) > 0 {
			args := make([]interface{}, len(value.Set))
			for i, v := range value.Set {
				args[i] = v
			}
			pipe.SAdd(ctx, rkey, args...)
		}
		pipe.PExpire(ctx, rkey, ttl)
	case KindHash:
		if len(value.Hash) > 0 {
			args := make([]interface{}, 0, len(value.Hash)*2)
			for f, v := range value.Hash {
				args = append(args, f, v)
			}
			pipe.HSet(ctx, rkey, args...)
		}
		pipe.PExpire(ctx, rkey, ttl)
	case KindScoreMap:
		if len(value.ScoreMap) > 0 {
			zs := make([]*redis.Z, len(value.ScoreMap))
			for i, m := range value.ScoreMap {
				zs[i] = &redis.Z{Member: m.Member, Score: m.Score}
			}
			pipe.ZAdd(ctx, rkey, zs...)
		}
		pipe.PExpire(ctx, rkey, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return wrapTierError("redis.WriteEntry", agentID, err)
	}
	return nil
}

// DeleteEntries removes every live entry under the agent namespace
func (s *RedisWorkingStore) DeleteEntries(ctx context.Context, agentID string) (int, error) {
	keys, err := s.ListKeys(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = s.entryKey(agentID, k)
	}
	deleted, err := s.rc.Client().Del(ctx, rkeys...).Result()
	if err != nil {
		return 0, wrapTierError("redis.DeleteEntries", agentID, err)
	}
	return int(deleted), nil
}

// ExpireEntries sets the TTL of every live entry for the agent.
// Per-key failures are tracked and the failed subset retried once;
// any key still failing makes the whole call report failure, so the
// caller never sees a silently partial update.
func (s *RedisWorkingStore) ExpireEntries(ctx context.Context, agentID string, ttl time.Duration) error {
	keys, err := s.ListKeys(ctx, agentID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	failed, err := s.expireBatch(ctx, agentID, keys, ttl)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		failed, err = s.expireBatch(ctx, agentID, failed, ttl)
		if err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return &core.StateError{
			Op:      "redis.ExpireEntries",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("%d of %d keys not updated: %w", len(failed), len(keys), core.ErrStoreUnavailable),
		}
	}
	return nil
}

// expireBatch pipelines PEXPIRE over the given keys and returns the
// subset that did not get updated.
func (s *RedisWorkingStore) expireBatch(ctx context.Context, agentID string, keys []string, ttl time.Duration) ([]string, error) {
	pipe := s.rc.Client().Pipeline()
	cmds := make(map[string]*redis.BoolCmd, len(keys))
	for _, k := range keys {
		cmds[k] = pipe.PExpire(ctx, s.entryKey(agentID, k), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapTierError("redis.ExpireEntries", agentID, err)
	}

	var failed []string
	for k, cmd := range cmds {
		// PEXPIRE returns false when the key vanished; that key no
		// longer needs an expiry update, so only command errors count.
		if cmd.Err() != nil {
			failed = append(failed, k)
		}
	}
	return failed, nil
}

// snapshotMeta is the fast-tier metadata record stored alongside the
// snapshot blob, per the persisted layout: timestamp, hash,
// checkpoint ID and key count under the same expiry.
type snapshotMeta struct {
	AgentID      string       `json:"agent_id"`
	CreatedAt    time.Time    `json:"created_at"`
	ContentHash  string       `json:"content_hash"`
	CheckpointID string       `json:"checkpoint_id"`
	KeyCount     int          `json:"key_count"`
	Tier         SnapshotTier `json:"tier"`
}

// PutSnapshot writes the snapshot blob and its metadata in one
// transaction, both under the same TTL. The previous snapshot for the
// agent is overwritten (last writer wins, single writer per namespace).
func (s *RedisWorkingStore) PutSnapshot(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap.Entries)
	if err != nil {
		return &core.StateError{
			Op:      "redis.PutSnapshot",
			Kind:    "fast-tier",
			AgentID: snap.AgentID,
			Err:     fmt.Errorf("marshal snapshot entries: %v: %w", err, core.ErrSerialization),
		}
	}
	meta, err := json.Marshal(snapshotMeta{
		AgentID:      snap.AgentID,
		CreatedAt:    snap.CreatedAt,
		ContentHash:  snap.ContentHash,
		CheckpointID: snap.CheckpointID,
		KeyCount:     snap.KeyCount(),
		Tier:         snap.Tier,
	})
	if err != nil {
		return &core.StateError{
			Op:      "redis.PutSnapshot",
			Kind:    "fast-tier",
			AgentID: snap.AgentID,
			Err:     fmt.Errorf("marshal snapshot metadata: %v: %w", err, core.ErrSerialization),
		}
	}

	pipe := s.rc.Client().TxPipeline()
	pipe.Set(ctx, s.snapshotDataKey(snap.AgentID), data, ttl)
	pipe.Set(ctx, s.snapshotMetaKey(snap.AgentID), meta, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapTierError("redis.PutSnapshot", snap.AgentID, err)
	}

	s.logger.Debug("Snapshot written to fast tier", map[string]interface{}{
		"operation":     "fast_snapshot_put",
		"agent_id":      snap.AgentID,
		"checkpoint_id": snap.CheckpointID,
		"key_count":     snap.KeyCount(),
		"ttl":           ttl.String(),
	})
	return nil
}

// GetSnapshot loads the agent's snapshot from the fast tier
func (s *RedisWorkingStore) GetSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	client := s.rc.Client()

	data, err := client.Get(ctx, s.snapshotDataKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, &core.StateError{
			Op:      "redis.GetSnapshot",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     core.ErrSnapshotNotFound,
		}
	}
	if err != nil {
		return nil, wrapTierError("redis.GetSnapshot", agentID, err)
	}

	metaRaw, err := client.Get(ctx, s.snapshotMetaKey(agentID)).Bytes()
	if err == redis.Nil {
		// Data without metadata is unreadable; treat as absent so the
		// fallback chain advances instead of trusting a partial record.
		return nil, &core.StateError{
			Op:      "redis.GetSnapshot",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("snapshot metadata missing: %w", core.ErrSnapshotNotFound),
		}
	}
	if err != nil {
		return nil, wrapTierError("redis.GetSnapshot", agentID, err)
	}

	var entries map[string]SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &core.StateError{
			Op:      "redis.GetSnapshot",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("snapshot blob corrupted: %v: %w", err, core.ErrSnapshotNotFound),
		}
	}
	var meta snapshotMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, &core.StateError{
			Op:      "redis.GetSnapshot",
			Kind:    "fast-tier",
			AgentID: agentID,
			Err:     fmt.Errorf("snapshot metadata corrupted: %v: %w", err, core.ErrSnapshotNotFound),
		}
	}

	return &Snapshot{
		AgentID:      agentID,
		Entries:      entries,
		ContentHash:  meta.ContentHash,
		CreatedAt:    meta.CreatedAt,
		CheckpointID: meta.CheckpointID,
		Tier:         meta.Tier,
	}, nil
}

// DeleteSnapshot removes the agent's snapshot slot
func (s *RedisWorkingStore) DeleteSnapshot(ctx context.Context, agentID string) error {
	if err := s.rc.Client().Del(ctx, s.snapshotDataKey(agentID), s.snapshotMetaKey(agentID)).Err(); err != nil {
		return wrapTierError("redis.DeleteSnapshot", agentID, err)
	}
	return nil
}

// Compile-time interface compliance check
var _ WorkingStore = (*RedisWorkingStore)(nil)
