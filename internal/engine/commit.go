package engine

import (
	"context"
	"log/slog"
	"time"
)

// The session commit layer translates a decided action into a durable
// session mutation and keeps the engine's derived tracking state in step.
// Storage failures abandon the cycle with a warning; the heartbeat corrects
// any resulting drift on its next tick.

// commitOpen opens a session at the fence, re-checking the single-open
// invariant immediately before the store mutation.
func (e *Engine) commitOpen(ctx context.Context, fenceID, fenceName string, kind SessionKind) {
	open, err := e.sessions.OpenSessionFor(ctx, e.userID)
	if err != nil {
		slog.Warn("session open abandoned: lookup failed", "fence", fenceID, "error", err)
		return
	}
	if open != nil {
		slog.Warn("session open refused: one already open",
			"fence", fenceID, "open_fence", open.FenceID)
		e.notifier.Clear()
		return
	}

	id, err := e.sessions.OpenSession(ctx, e.userID, fenceID, fenceName, kind)
	if err != nil {
		slog.Warn("session open failed", "fence", fenceID, "error", err)
		return
	}

	e.activeFenceID = fenceID
	e.trackingSince = e.clock.Now()
	e.notifier.Clear()
	slog.Info("session opened",
		"session", id, "fence", fenceID, "kind", string(kind))
}

// commitClose closes the open session at the fence, applying the given
// minute adjustment toward the true departure time.
func (e *Engine) commitClose(ctx context.Context, fenceID string, adjustmentMinutes int) {
	if err := e.sessions.CloseSession(ctx, e.userID, fenceID, adjustmentMinutes); err != nil {
		slog.Warn("session close failed", "fence", fenceID, "error", err)
		return
	}

	e.activeFenceID = ""
	e.trackingSince = time.Time{}
	e.notifier.Clear()
	slog.Info("session closed", "fence", fenceID, "adjustment_min", adjustmentMinutes)
}
