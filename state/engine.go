package state

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/statecraft/agentmem/core"
)

// Engine is the orchestrator-facing surface of the durability engine.
// It wires the five components together and exposes the three
// lifecycle hooks the external orchestrator drives:
//
//	OnCheckpoint -> fast-tier snapshot
//	OnPause      -> widen expiry window, then dual-write snapshot
//	OnResume     -> run the recovery fallback chain
//
// Lifecycle events for one agent are serialized by the orchestrator;
// the engine assumes single-writer-per-namespace and adds no locking
// around tier operations of its own.
type Engine struct {
	cfg         *core.Config
	store       WorkingStore
	archive     SnapshotArchive
	lifetime    *LifetimeController
	snapshotter *Snapshotter
	restorer    *Restorer
	verifier    *Verifier
	coordinator *RecoveryCoordinator
	logger      core.Logger

	// Most recent checkpoint ID per agent, so a pause can dual-write
	// against the current external checkpoint record.
	mu              sync.Mutex
	lastCheckpoints map[string]string
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithLogger sets the logger used by the engine and every component
func WithLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig sets the engine configuration; defaults apply otherwise
func WithConfig(cfg *core.Config) EngineOption {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// NewEngine creates the engine over a fast tier and a durable tier.
// Returns a concrete type per Go idiom "return structs, accept
// interfaces".
func NewEngine(store WorkingStore, archive SnapshotArchive, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:             core.DefaultConfig(),
		store:           store,
		archive:         archive,
		logger:          &core.NoOpLogger{},
		lastCheckpoints: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.lifetime = NewLifetimeController(store, e.cfg, e.logger)
	e.snapshotter = NewSnapshotter(store, archive, e.cfg, e.logger)
	e.restorer = NewRestorer(store, archive, e.cfg, e.logger)
	e.verifier = NewVerifier(store, e.logger)
	e.coordinator = NewRecoveryCoordinator(store, e.lifetime, e.restorer, e.cfg, e.logger)
	return e
}

// OnCheckpoint handles completion of one unit of the agent's work by
// writing a fast-tier-only snapshot. The returned content hash is for
// the caller's own accounting; it is also stored with the snapshot.
func (e *Engine) OnCheckpoint(ctx context.Context, agentID, checkpointID string) (string, error) {
	hash, err := e.snapshotter.SnapshotOnCheckpoint(ctx, agentID, checkpointID, false)
	if err != nil {
		return "", err
	}
	e.rememberCheckpoint(agentID, checkpointID)
	return hash, nil
}

// OnPause handles a pause event: the expiry window is widened first so
// live entries survive the pause even if the snapshot write fails and
// has to be retried, then the snapshot is dual-written against the
// current checkpoint record. The call blocks until both tier writes
// are acknowledged; returning before durability is confirmed would
// defeat the pause guarantee.
func (e *Engine) OnPause(ctx context.Context, agentID string) (string, error) {
	if err := e.lifetime.ExtendOnPause(ctx, agentID); err != nil {
		return "", err
	}

	checkpointID := e.currentCheckpoint(agentID)
	if checkpointID == "" {
		checkpointID = "pause-" + uuid.New().String()
		e.rememberCheckpoint(agentID, checkpointID)
	}
	return e.snapshotter.SnapshotOnCheckpoint(ctx, agentID, checkpointID, true)
}

// OnResume handles a resume event by running the recovery fallback
// chain. A not-found outcome is returned without error: deciding
// whether to restart the unit of work from scratch is the
// orchestrator's call, not this engine's.
func (e *Engine) OnResume(ctx context.Context, agentID string) (*RecoveryOutcome, error) {
	return e.coordinator.Recover(ctx, agentID)
}

// Lifetime exposes the lifetime controller for callers that manage
// windows directly
func (e *Engine) Lifetime() *LifetimeController {
	return e.lifetime
}

// Verifier exposes the consistency verifier
func (e *Engine) Verifier() *Verifier {
	return e.verifier
}

// History returns the agent's durable-tier snapshot audit trail,
// newest first.
func (e *Engine) History(ctx context.Context, agentID string) ([]*Snapshot, error) {
	return e.archive.ListByAgent(ctx, agentID)
}

func (e *Engine) rememberCheckpoint(agentID, checkpointID string) {
	if checkpointID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCheckpoints[agentID] = checkpointID
}

func (e *Engine) currentCheckpoint(agentID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCheckpoints[agentID]
}
