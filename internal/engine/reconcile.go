package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/geoshift/geoshift/internal/config"
	"github.com/geoshift/geoshift/internal/geo"
)

// ReconcileOutcome is the single action a heartbeat pass takes.
type ReconcileOutcome string

const (
	// OutcomeConsistent: position and session state already agree.
	OutcomeConsistent ReconcileOutcome = "consistent"
	// OutcomeMissedEntry: inside a fence with no open session; a session
	// was opened now.
	OutcomeMissedEntry ReconcileOutcome = "missed_entry"
	// OutcomeMissedExit: outside all fences with a session open; it was
	// closed now.
	OutcomeMissedExit ReconcileOutcome = "missed_exit"
	// OutcomeSkipped: the pass could not run (no identity, position or
	// storage failure); it waits for the next tick.
	OutcomeSkipped ReconcileOutcome = "skipped"
)

// ReconcileInput is the engine state a pass evaluates against.
type ReconcileInput struct {
	UserID        string
	Fences        []geo.Fence
	SkippedToday  func(fenceID string) bool
	PausedFenceID string
	Origin        string // "heartbeat", "reconfigure" or "manual", for logs
}

// ReconcileResult reports what a pass did.
type ReconcileResult struct {
	Outcome   ReconcileOutcome
	FenceID   string
	SessionID string
}

// Reconciler is the periodic consistency check between measured position
// and committed session state. It is a safety net, not a UX flow: a missed
// entry opens an automatic session with no grace period, a missed exit
// closes immediately with no adjustment (the actual exit time is unknown
// beyond "sometime in the last interval").
//
// The policy is asymmetric on purpose: a missed exit silently costs the
// worker money and is corrected eagerly; a missed entry only affects
// convenience, so it is corrected without any timing finesse.
//
// A pass never panics out of its own execution context: every failure is
// caught, logged, reported once, and retried only at the next tick.
type Reconciler struct {
	position PositionSource
	sessions SessionStore
	audit    AuditLog
	timings  *config.Store
	now      func() time.Time

	runs       int
	lastOutcome ReconcileOutcome
}

// NewReconciler wires a Reconciler. The engine owns exactly one and calls
// RunOnce from its event loop (periodic ticks, post-reconfigure passes and
// manual requests all converge here; there is a single rule, applied
// uniformly).
func NewReconciler(position PositionSource, sessions SessionStore, audit AuditLog, timings *config.Store, now func() time.Time) *Reconciler {
	return &Reconciler{
		position: position,
		sessions: sessions,
		audit:    audit,
		timings:  timings,
		now:      now,
	}
}

// RunOnce performs one consistency pass and applies at most one correction.
func (r *Reconciler) RunOnce(ctx context.Context, in ReconcileInput) ReconcileResult {
	r.runs++
	res := r.evaluate(ctx, in)
	r.lastOutcome = res.Outcome
	return res
}

func (r *Reconciler) evaluate(ctx context.Context, in ReconcileInput) ReconcileResult {
	if in.UserID == "" {
		slog.Warn("reconcile skipped: no user identity", "origin", in.Origin)
		return ReconcileResult{Outcome: OutcomeSkipped}
	}

	pos, err := r.position.CurrentPosition(ctx)
	if err != nil {
		slog.Warn("reconcile skipped: position unavailable",
			"origin", in.Origin, "error", err)
		return ReconcileResult{Outcome: OutcomeSkipped}
	}

	// Same expanded-radius rule as exit detection, so the reconciler and
	// the signal filter share one notion of "still present".
	factor := r.timings.Get().ExitHysteresisFactor
	inside := geo.FenceContaining(in.Fences, pos, factor)

	open, err := r.sessions.OpenSessionFor(ctx, in.UserID)
	if err != nil {
		slog.Warn("reconcile skipped: session lookup failed",
			"origin", in.Origin, "error", err)
		return ReconcileResult{Outcome: OutcomeSkipped}
	}

	switch {
	case open == nil && inside != nil:
		if in.SkippedToday != nil && in.SkippedToday(inside.ID) {
			slog.Debug("reconcile: inside skipped fence, no correction",
				"fence", inside.ID, "origin", in.Origin)
			return ReconcileResult{Outcome: OutcomeConsistent, FenceID: inside.ID}
		}
		return r.correctMissedEntry(ctx, in, inside)

	case open != nil && (inside == nil || inside.ID != open.FenceID):
		if in.PausedFenceID == open.FenceID {
			// The user declared a pause; stepping away from the fence is
			// the whole point. The pause deadline owns this session.
			slog.Debug("reconcile: session paused, correction withheld",
				"fence", open.FenceID, "origin", in.Origin)
			return ReconcileResult{Outcome: OutcomeConsistent, FenceID: open.FenceID}
		}
		return r.correctMissedExit(ctx, in, open)

	default:
		fenceID := ""
		if inside != nil {
			fenceID = inside.ID
		}
		slog.Debug("reconcile: consistent",
			"origin", in.Origin, "inside", fenceID, "session_open", open != nil)
		return ReconcileResult{Outcome: OutcomeConsistent, FenceID: fenceID}
	}
}

func (r *Reconciler) correctMissedEntry(ctx context.Context, in ReconcileInput, fence *geo.Fence) ReconcileResult {
	id, err := r.sessions.OpenSession(ctx, in.UserID, fence.ID, fence.Name, SessionAutomatic)
	if err != nil {
		slog.Warn("reconcile: missed-entry correction failed",
			"fence", fence.ID, "error", err)
		return ReconcileResult{Outcome: OutcomeSkipped, FenceID: fence.ID}
	}
	slog.Info("reconcile: missed entry corrected",
		"fence", fence.ID, "session", id, "origin", in.Origin)
	r.audit.Record(ctx, AuditEntry{
		Kind: "missed_entry", UserID: in.UserID, FenceID: fence.ID, Detail: in.Origin,
	})
	return ReconcileResult{Outcome: OutcomeMissedEntry, FenceID: fence.ID, SessionID: id}
}

func (r *Reconciler) correctMissedExit(ctx context.Context, in ReconcileInput, open *Session) ReconcileResult {
	// No adjustment: the true departure time is unknowable here.
	if err := r.sessions.CloseSession(ctx, in.UserID, open.FenceID, 0); err != nil {
		slog.Warn("reconcile: missed-exit correction failed",
			"fence", open.FenceID, "error", err)
		return ReconcileResult{Outcome: OutcomeSkipped, FenceID: open.FenceID}
	}
	slog.Info("reconcile: missed exit corrected",
		"fence", open.FenceID, "session", open.ID, "origin", in.Origin)
	r.audit.Record(ctx, AuditEntry{
		Kind: "missed_exit", UserID: in.UserID, FenceID: open.FenceID, Detail: in.Origin,
	})
	return ReconcileResult{Outcome: OutcomeMissedExit, FenceID: open.FenceID, SessionID: open.ID}
}

// Runs returns how many passes have executed, with the last outcome.
func (r *Reconciler) Runs() (int, ReconcileOutcome) {
	return r.runs, r.lastOutcome
}
