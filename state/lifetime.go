package state

import (
	"context"
	"time"

	"github.com/statecraft/agentmem/core"
	"github.com/statecraft/agentmem/resilience"
	"github.com/statecraft/agentmem/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// LifetimeController owns the mapping from agent lifecycle phase to
// entry expiration window: the active window while executing, the
// paused window across multi-day workflow pauses.
//
// The controller holds no per-agent memory between calls; each call is
// parameterized by agent ID and the store itself is the only state.
type LifetimeController struct {
	store  WorkingStore
	cfg    *core.Config
	retry  *resilience.RetryConfig
	logger core.Logger
}

// NewLifetimeController creates a lifetime controller over the fast tier
func NewLifetimeController(store WorkingStore, cfg *core.Config, logger core.Logger) *LifetimeController {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &LifetimeController{
		store:  store,
		cfg:    cfg,
		retry:  resilience.FromConfig(cfg),
		logger: logger,
	}
}

// ExtendOnPause widens every live entry's expiry to the paused window.
// Idempotent: a second call only resets the same deadline. On store
// failure the call reports an error and must be retried by the caller;
// it never silently succeeds with a partial update.
func (l *LifetimeController) ExtendOnPause(ctx context.Context, agentID string) error {
	return l.applyWindow(ctx, agentID, "pause", l.cfg.PausedWindow)
}

// RestoreOnResume narrows every live entry's expiry back to the active
// window as the agent re-enters execution.
func (l *LifetimeController) RestoreOnResume(ctx context.Context, agentID string) error {
	return l.applyWindow(ctx, agentID, "resume", l.cfg.ActiveWindow)
}

func (l *LifetimeController) applyWindow(ctx context.Context, agentID, phase string, window time.Duration) error {
	err := resilience.Retry(ctx, l.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.FastTimeout)
		defer cancel()
		return l.store.ExpireEntries(callCtx, agentID, window)
	})
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		l.logger.Error("Failed to apply expiry window", map[string]interface{}{
			"operation": "lifetime_" + phase,
			"agent_id":  agentID,
			"window":    window.String(),
			"error":     err.Error(),
		})
		return err
	}

	telemetry.AddSpanEvent(ctx, "lifetime.window_applied",
		attribute.String("agent_id", agentID),
		attribute.String("phase", phase),
		attribute.String("window", window.String()),
	)
	l.logger.Debug("Expiry window applied", map[string]interface{}{
		"operation": "lifetime_" + phase,
		"agent_id":  agentID,
		"window":    window.String(),
	})
	return nil
}
