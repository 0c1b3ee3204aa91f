package state

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/statecraft/agentmem/core"
	"github.com/statecraft/agentmem/telemetry"
)

// recoveryState names one step of the fallback chain. The chain is a
// strict linear walk with no loops and no branching back: each state
// either terminates with an outcome or advances exactly one step.
type recoveryState int

const (
	stateCheckLive recoveryState = iota
	stateTryFastSnapshot
	stateTryDurableSnapshot
	stateNotFound
)

func (s recoveryState) String() string {
	switch s {
	case stateCheckLive:
		return "check-live"
	case stateTryFastSnapshot:
		return "try-fast-snapshot"
	case stateTryDurableSnapshot:
		return "try-durable-snapshot"
	case stateNotFound:
		return "not-found"
	}
	return "unknown"
}

// RecoveryCoordinator picks the right recovery path with a
// bounded-latency fallback chain:
//
//  1. CheckLive: live entries still present (common after short
//     outages) -> reset the active window, no deserialization.
//  2. TryFastSnapshot: restore from the fast-tier snapshot slot.
//  3. TryDurableSnapshot: restore from the durable archive, the
//     slow-but-always-available path.
//  4. NotFound: a legitimate terminal outcome, decided upstream.
//
// Only one source is ever used per resume; data from two tiers is
// never merged.
type RecoveryCoordinator struct {
	store    WorkingStore
	lifetime *LifetimeController
	restorer *Restorer
	cfg      *core.Config
	logger   core.Logger
}

// NewRecoveryCoordinator creates the coordinator over the engine's
// components
func NewRecoveryCoordinator(store WorkingStore, lifetime *LifetimeController, restorer *Restorer, cfg *core.Config, logger core.Logger) *RecoveryCoordinator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RecoveryCoordinator{
		store:    store,
		lifetime: lifetime,
		restorer: restorer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Recover runs the fallback chain for one resume event and reports
// which source satisfied the request. A restore consistency failure is
// fatal to the resume attempt; a transiently unreachable fast tier
// advances the chain instead of failing the whole recovery.
func (c *RecoveryCoordinator) Recover(ctx context.Context, agentID string) (*RecoveryOutcome, error) {
	start := time.Now()
	current := stateCheckLive

	for {
		c.logger.Debug("Recovery state entered", map[string]interface{}{
			"operation": "recovery_state",
			"agent_id":  agentID,
			"state":     current.String(),
		})

		switch current {
		case stateCheckLive:
			count, err := c.countLive(ctx, agentID)
			if err != nil {
				// Fast tier unreadable: the live path cannot resolve,
				// but the durable path further down still can.
				c.logger.Warn("Live-state check failed, advancing chain", map[string]interface{}{
					"operation": "recovery_check_live",
					"agent_id":  agentID,
					"error":     err.Error(),
				})
				current = stateTryFastSnapshot
				continue
			}
			if count == 0 {
				current = stateTryFastSnapshot
				continue
			}
			if err := c.lifetime.RestoreOnResume(ctx, agentID); err != nil {
				return nil, err
			}
			return c.finish(ctx, agentID, SourceLiveState, false, start), nil

		case stateTryFastSnapshot:
			_, err := c.restorer.Restore(ctx, agentID, FastTier)
			if err != nil {
				if core.IsConsistencyError(err) {
					return nil, err
				}
				if !core.IsNotFound(err) {
					c.logger.Warn("Fast-tier restore failed, advancing chain", map[string]interface{}{
						"operation": "recovery_fast_restore",
						"agent_id":  agentID,
						"error":     err.Error(),
					})
				}
				current = stateTryDurableSnapshot
				continue
			}
			return c.finish(ctx, agentID, SourceFastSnapshot, true, start), nil

		case stateTryDurableSnapshot:
			_, err := c.restorer.Restore(ctx, agentID, DurableTier)
			if err != nil {
				if core.IsNotFound(err) {
					current = stateNotFound
					continue
				}
				// The durable tier is the last resort: anything other
				// than a clean miss surfaces to the orchestrator.
				return nil, err
			}
			return c.finish(ctx, agentID, SourceDurableSnapshot, true, start), nil

		case stateNotFound:
			c.logger.Info("No recovery source found", map[string]interface{}{
				"operation": "recovery_not_found",
				"agent_id":  agentID,
				"tried":     "live, fast-tier, durable-tier",
			})
			return c.finish(ctx, agentID, SourceNotFound, false, start), nil
		}
	}
}

func (c *RecoveryCoordinator) countLive(ctx context.Context, agentID string) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.FastTimeout)
	defer cancel()
	return c.store.CountKeys(callCtx, agentID)
}

func (c *RecoveryCoordinator) finish(ctx context.Context, agentID string, source RecoverySource, verified bool, start time.Time) *RecoveryOutcome {
	outcome := &RecoveryOutcome{
		AgentID:  agentID,
		Source:   source,
		Latency:  time.Since(start),
		Verified: verified,
	}

	telemetry.AddSpanEvent(ctx, "recovery.completed",
		attribute.String("agent_id", agentID),
		attribute.String("source", string(source)),
		attribute.Bool("verified", verified),
	)
	telemetry.Counter("recovery.completed", "source", string(source))
	telemetry.Histogram("recovery.latency_ms", float64(outcome.Latency.Milliseconds()), "source", string(source))

	c.logger.Info("Recovery completed", map[string]interface{}{
		"operation":  "recovery_complete",
		"agent_id":   agentID,
		"source":     string(source),
		"verified":   verified,
		"latency_ms": outcome.Latency.Milliseconds(),
	})
	return outcome
}
