package engine

import (
	"context"
	"log/slog"
)

// DecisionKind is an explicit user response to a prompt.
type DecisionKind int

const (
	// DecisionStart opens the session now (pending enter).
	DecisionStart DecisionKind = iota + 1
	// DecisionSkip dismisses this fence for the rest of the day.
	DecisionSkip
	// DecisionEnd closes the session with the configured exit adjustment
	// (pending exit).
	DecisionEnd
	// DecisionEndAdjusted closes the session with a user-stated
	// adjustment: "I left N minutes ago".
	DecisionEndAdjusted
	// DecisionPause suspends the session instead of ending it.
	DecisionPause
	// DecisionResume clears a pause (or pending return), keeping the
	// session open.
	DecisionResume
	// DecisionStop closes the session immediately with no adjustment.
	DecisionStop
	// DecisionSnooze restarts the pause deadline.
	DecisionSnooze
)

// String returns the wire/log name of the decision.
func (k DecisionKind) String() string {
	switch k {
	case DecisionStart:
		return "start"
	case DecisionSkip:
		return "skip"
	case DecisionEnd:
		return "end"
	case DecisionEndAdjusted:
		return "end_adjusted"
	case DecisionPause:
		return "pause"
	case DecisionResume:
		return "resume"
	case DecisionStop:
		return "stop"
	case DecisionSnooze:
		return "snooze"
	default:
		return "unknown"
	}
}

// ParseDecisionKind parses the wire name of a decision.
func ParseDecisionKind(s string) (DecisionKind, bool) {
	for _, k := range []DecisionKind{
		DecisionStart, DecisionSkip, DecisionEnd, DecisionEndAdjusted,
		DecisionPause, DecisionResume, DecisionStop, DecisionSnooze,
	} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Decision is a user response to the current prompt.
type Decision struct {
	Kind DecisionKind
	// AdjustmentMinutes applies to DecisionEndAdjusted; must be >= 1.
	AdjustmentMinutes int
}

// handleDecision resolves the current pending action or pause with an
// explicit user choice. A decision that does not fit the current state is
// a warning-level no-op, not an error.
func (e *Engine) handleDecision(ctx context.Context, d Decision) {
	if e.userID == "" {
		slog.Warn("decision skipped: no user identity", "decision", d.Kind.String())
		return
	}

	p := e.pending
	switch {
	case p != nil && p.Kind == PendingEnter:
		e.decideEnter(ctx, d, p)
	case p != nil && p.Kind == PendingExit:
		e.decideExit(ctx, d, p)
	case p != nil && p.Kind == PendingReturn:
		e.decideReturn(ctx, d, p)
	case e.paused != nil:
		e.decidePaused(ctx, d)
	default:
		slog.Warn("decision with nothing pending ignored", "decision", d.Kind.String())
	}
}

func (e *Engine) decideEnter(ctx context.Context, d Decision, p *PendingAction) {
	switch d.Kind {
	case DecisionStart:
		e.takePending()
		slog.Info("user started session", "fence", p.FenceID)
		e.commitOpen(ctx, p.FenceID, p.FenceName, SessionManual)
	case DecisionSkip:
		e.takePending()
		e.skipped.add(e.clock.Now(), p.FenceID)
		slog.Info("fence skipped for today", "fence", p.FenceID)
		e.notifier.Clear()
	default:
		slog.Warn("decision does not apply to pending enter", "decision", d.Kind.String())
	}
}

func (e *Engine) decideExit(ctx context.Context, d Decision, p *PendingAction) {
	switch d.Kind {
	case DecisionEnd:
		e.takePending()
		slog.Info("user ended session", "fence", p.FenceID)
		e.commitClose(ctx, p.FenceID, e.timings.Get().ExitAdjustmentMinutes)
	case DecisionEndAdjusted:
		if d.AdjustmentMinutes < 1 {
			slog.Warn("end-with-adjustment needs a positive minute count",
				"minutes", d.AdjustmentMinutes)
			return
		}
		e.takePending()
		slog.Info("user ended session with adjustment",
			"fence", p.FenceID, "minutes", d.AdjustmentMinutes)
		e.commitClose(ctx, p.FenceID, d.AdjustmentMinutes)
	case DecisionPause:
		e.takePending()
		slog.Info("user paused session", "fence", p.FenceID)
		e.beginPause(p.FenceID, p.FenceName)
	default:
		slog.Warn("decision does not apply to pending exit", "decision", d.Kind.String())
	}
}

func (e *Engine) decideReturn(ctx context.Context, d Decision, p *PendingAction) {
	switch d.Kind {
	case DecisionResume:
		e.takePending()
		e.clearPause()
		slog.Info("user resumed session", "fence", p.FenceID)
		e.notifier.Clear()
	case DecisionStop:
		e.takePending()
		e.clearPause()
		// The user is confirming they are done, not returning: close
		// right now with no further adjustment.
		slog.Info("user stopped session on return prompt", "fence", p.FenceID)
		e.commitClose(ctx, p.FenceID, 0)
	default:
		slog.Warn("decision does not apply to pending return", "decision", d.Kind.String())
	}
}

func (e *Engine) decidePaused(ctx context.Context, d Decision) {
	ps := e.paused
	switch d.Kind {
	case DecisionSnooze:
		e.clearPause()
		slog.Info("pause snoozed", "fence", ps.FenceID)
		e.beginPause(ps.FenceID, ps.FenceName)
	case DecisionResume:
		e.clearPause()
		slog.Info("user resumed session from pause", "fence", ps.FenceID)
		e.notifier.Clear()
	case DecisionStop:
		e.clearPause()
		slog.Info("user stopped session from pause", "fence", ps.FenceID)
		e.commitClose(ctx, ps.FenceID, 0)
	default:
		slog.Warn("decision does not apply while paused", "decision", d.Kind.String())
	}
}
