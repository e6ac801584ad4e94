package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/geoshift/geoshift/internal/config"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/signal"
)

// Deps are the engine's injected collaborators. There are no ambient
// statics: construct one Engine per process and pass it by reference.
type Deps struct {
	Clock    Clock          // nil → SystemClock()
	Timings  *config.Store  // nil → defaults
	Filter   *signal.Filter // nil → built from Clock/Timings/Position
	Sessions SessionStore
	Registry FenceRegistry
	Position PositionSource
	Notifier Notifier       // nil → no-op
	Identity IdentityStore  // nil allowed when UserID is pinned
	Audit    AuditLog       // nil → no-op
	Tokens   TokenGenerator // nil → UUIDGenerator

	// UserID pins the engine to a user. When empty, identity is resolved
	// from the background identity store at boot.
	UserID string
}

// Engine is the single-writer geofence session engine.
//
// Thread-safety model:
//   - HandleSignal, Decide, SetReady, RefreshFences, RequestHeartbeat,
//     Status: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Drain: alternative to Run for cooperative embedding and tests;
//     must not be used concurrently with Run
type Engine struct {
	clock    Clock
	timings  *config.Store
	filter   *signal.Filter
	sessions SessionStore
	registry FenceRegistry
	position PositionSource
	notifier Notifier
	identity IdentityStore
	audit    AuditLog
	tokens   TokenGenerator

	queue      *eventQueue
	reconciler *Reconciler

	// Ingestion re-entrancy guard. Held while a raw signal is queued or
	// mid-flight; self-releases after the configured window so a stalled
	// chain can never wedge geofencing permanently.
	guardMu    sync.Mutex
	guardUntil time.Time

	// Mutated only by the run loop; the mutex exists for Status readers.
	mu            sync.Mutex
	ready         bool
	userID        string
	pinnedUserID  string
	fences        []geo.Fence
	boot          *bootQueue
	pending       *PendingAction
	paused        *PauseState
	skipped       skippedSet
	activeFenceID string
	trackingSince time.Time

	heartbeatTimer Timer
	heartbeatToken string
	reconcileTimer Timer
	reconcileToken string
}

// New constructs an Engine. Sessions, Registry and Position are required;
// the rest default as documented on Deps.
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Timings == nil {
		deps.Timings = config.NewStore(config.DefaultTimings())
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}
	if deps.Tokens == nil {
		deps.Tokens = UUIDGenerator{}
	}
	if deps.Filter == nil {
		deps.Filter = signal.NewFilter(deps.Clock.Now, deps.Timings, func(ctx context.Context) (geo.Position, error) {
			return deps.Position.CurrentPosition(ctx)
		})
	}

	e := &Engine{
		clock:        deps.Clock,
		timings:      deps.Timings,
		filter:       deps.Filter,
		sessions:     deps.Sessions,
		registry:     deps.Registry,
		position:     deps.Position,
		notifier:     deps.Notifier,
		identity:     deps.Identity,
		audit:        deps.Audit,
		tokens:       deps.Tokens,
		queue:        newEventQueue(),
		pinnedUserID: deps.UserID,
		boot:         newBootQueue(deps.Timings.Get().BootQueueCapacity),
	}
	e.skipped.reset()
	e.reconciler = NewReconciler(deps.Position, deps.Sessions, deps.Audit, deps.Timings, deps.Clock.Now)
	return e
}

// Filter exposes the signal filter (for status reporting).
func (e *Engine) Filter() *signal.Filter { return e.filter }

// Reconciler exposes the heartbeat reconciler.
func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// HandleSignal submits a raw geofence signal. Returns false if the signal
// was shed by the re-entrancy guard or the engine is stopped.
func (e *Engine) HandleSignal(sig signal.Signal) bool {
	now := e.clock.Now()
	if sig.At.IsZero() {
		sig.At = now
	}

	e.guardMu.Lock()
	if now.Before(e.guardUntil) {
		e.guardMu.Unlock()
		slog.Warn("raw signal shed by processing guard",
			"kind", sig.Kind.String(), "fence", sig.FenceID)
		return false
	}
	e.guardUntil = now.Add(e.timings.Get().ProcessingGuardWindow)
	e.guardMu.Unlock()

	return e.queue.Enqueue(event{kind: eventSignal, sig: sig})
}

func (e *Engine) releaseGuard() {
	e.guardMu.Lock()
	e.guardUntil = time.Time{}
	e.guardMu.Unlock()
}

// Decide submits a user decision for the current prompt.
func (e *Engine) Decide(d Decision) bool {
	return e.queue.Enqueue(event{kind: eventDecision, decision: d})
}

// SetReady opens the boot gate: the queue drains and live processing
// begins. The transition is one-way; see Reset.
func (e *Engine) SetReady() bool {
	return e.queue.Enqueue(event{kind: eventBootReady})
}

// Reset closes the boot gate again and clears all in-flight state. Used
// only for account logout and testing.
func (e *Engine) Reset() bool {
	return e.queue.Enqueue(event{kind: eventReset})
}

// RefreshFences tells the engine the registry changed: it opens the
// suppression window, re-registers region monitoring from a fresh snapshot,
// and schedules a reconcile pass for window close.
func (e *Engine) RefreshFences() bool {
	return e.queue.Enqueue(event{kind: eventRefreshFences})
}

// RequestHeartbeat triggers an immediate reconcile pass, outside the
// periodic schedule.
func (e *Engine) RequestHeartbeat() bool {
	return e.queue.Enqueue(event{kind: eventHeartbeat})
}

// UpdateHeartbeatInterval changes the reconciler tick without restarting
// the engine; the new interval is armed immediately.
func (e *Engine) UpdateHeartbeatInterval(d time.Duration) error {
	if err := e.timings.Update(func(t *config.Timings) { t.HeartbeatInterval = d }); err != nil {
		return err
	}
	e.queue.Enqueue(event{kind: eventReschedule})
	return nil
}

// SetForeground switches the heartbeat between the foreground and
// background presets.
func (e *Engine) SetForeground(fg bool) error {
	t := e.timings.Get()
	if fg {
		return e.UpdateHeartbeatInterval(t.HeartbeatForeground)
	}
	return e.UpdateHeartbeatInterval(t.HeartbeatBackground)
}

// Stop closes the event queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Run starts the single-writer event loop and blocks until the context is
// cancelled or Stop is called.
//
// ERROR HANDLING: processing failures are logged with context and the loop
// continues. Transient I/O errors abandon the cycle; the heartbeat corrects
// any resulting drift on its next tick.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// A wakeup token can be stale when a Drain consumed the
			// events before the loop woke. Stop only on a closed,
			// emptied queue; otherwise re-poll.
			if e.queue.Drained() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain synchronously processes every queued event in the caller's
// goroutine and returns the count. For cooperative embedding and tests;
// must not run concurrently with Run.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.process(ctx, ev)
		n++
	}
}

// process routes one event. Runs to completion before the next event is
// looked at; this run-to-completion ordering is what the state machine's
// correctness rests on.
func (e *Engine) process(ctx context.Context, ev event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.kind {
	case eventSignal:
		e.handleSignal(ctx, ev)
	case eventTimer:
		e.handleTimer(ctx, ev)
	case eventDecision:
		e.handleDecision(ctx, ev.decision)
	case eventHeartbeat:
		e.runReconcile(ctx, "manual")
	case eventBootReady:
		e.handleBootReady(ctx)
	case eventRefreshFences:
		e.handleRefreshFences(ctx)
	case eventReschedule:
		e.scheduleHeartbeat()
	case eventReset:
		e.handleReset()
	default:
		slog.Error("unknown event kind", "kind", int(ev.kind))
	}
}

// handleSignal filters a signal, parks it pre-boot, or feeds it to the
// pending-action machine.
func (e *Engine) handleSignal(ctx context.Context, ev event) {
	defer e.releaseGuard()

	fence := e.fenceByID(ev.sig.FenceID)

	verdict := e.filter.Check(ctx, ev.sig, fence)
	if !verdict.Accepted() {
		slog.Debug("signal suppressed",
			"kind", ev.sig.Kind.String(),
			"fence", ev.sig.FenceID,
			"verdict", string(verdict.Code))
		return
	}

	if !e.ready {
		if evicted := e.boot.push(ev.sig, e.clock.Now()); evicted != nil {
			slog.Warn("boot queue full, oldest signal dropped",
				"kind", evicted.sig.Kind.String(), "fence", evicted.sig.FenceID)
			e.audit.Record(ctx, AuditEntry{
				Kind:    "boot_queue_evicted",
				FenceID: evicted.sig.FenceID,
				Detail:  evicted.sig.Kind.String(),
			})
		}
		slog.Debug("signal queued behind boot gate",
			"kind", ev.sig.Kind.String(), "fence", ev.sig.FenceID, "depth", e.boot.len())
		return
	}

	e.dispatchSignal(ctx, ev.sig, fence)
}

// dispatchSignal drives the pending-action state machine with one filtered
// live signal.
func (e *Engine) dispatchSignal(ctx context.Context, sig signal.Signal, fence *geo.Fence) {
	if e.userID == "" {
		slog.Warn("signal skipped: no user identity",
			"kind", sig.Kind.String(), "fence", sig.FenceID)
		return
	}
	if fence != nil && sig.FenceName == "" {
		sig.FenceName = fence.Name
	}

	switch sig.Kind {
	case signal.KindEnter:
		e.applyEnter(ctx, sig, fence)
	case signal.KindExit:
		e.applyExit(ctx, sig)
	default:
		slog.Warn("signal with unknown kind ignored", "fence", sig.FenceID)
	}
}

func (e *Engine) applyEnter(ctx context.Context, sig signal.Signal, fence *geo.Fence) {
	now := e.clock.Now()

	// Re-entry while paused at this fence: offer to resume.
	if e.paused != nil && e.paused.FenceID == sig.FenceID {
		if sig.FenceName == "" {
			sig.FenceName = e.paused.FenceName
		}
		e.beginPending(PendingReturn, sig, e.timings.Get().ReturnTimeout)
		return
	}

	// An enter contradicting a pending exit at the same fence means the
	// user came back: the exit was noise.
	if e.pending != nil && e.pending.Kind == PendingExit && e.pending.FenceID == sig.FenceID {
		slog.Info("pending exit cancelled by contradicting enter", "fence", sig.FenceID)
		e.clearPending()
		return
	}

	if e.skipped.contains(now, sig.FenceID) {
		slog.Debug("enter ignored: fence skipped today", "fence", sig.FenceID)
		return
	}

	open, err := e.sessions.OpenSessionFor(ctx, e.userID)
	if err != nil {
		slog.Warn("enter abandoned: session lookup failed", "fence", sig.FenceID, "error", err)
		return
	}
	if open != nil {
		if open.FenceID == sig.FenceID {
			slog.Debug("enter ignored: session already open here", "fence", sig.FenceID)
			return
		}
		slog.Warn("enter ignored: session open at another fence",
			"fence", sig.FenceID, "open_fence", open.FenceID)
		return
	}

	if fence == nil {
		slog.Warn("enter ignored: fence not in registry snapshot", "fence", sig.FenceID)
		return
	}

	e.beginPending(PendingEnter, sig, e.timings.Get().EntryTimeout)
}

func (e *Engine) applyExit(ctx context.Context, sig signal.Signal) {
	// A rapid enter+exit pair is noise, not a session.
	if e.pending != nil && e.pending.Kind == PendingEnter && e.pending.FenceID == sig.FenceID {
		slog.Info("pending enter cancelled by contradicting exit", "fence", sig.FenceID)
		e.clearPending()
		return
	}

	// Paused blocks exit processing for its own fence: the user already
	// told us they stepped out.
	if e.paused != nil && e.paused.FenceID == sig.FenceID {
		slog.Debug("exit ignored while paused", "fence", sig.FenceID)
		return
	}

	open, err := e.sessions.OpenSessionFor(ctx, e.userID)
	if err != nil {
		slog.Warn("exit abandoned: session lookup failed", "fence", sig.FenceID, "error", err)
		return
	}
	if open == nil || open.FenceID != sig.FenceID {
		slog.Debug("exit ignored: no open session at this fence", "fence", sig.FenceID)
		return
	}
	if sig.FenceName == "" {
		sig.FenceName = open.FenceName
	}

	e.beginPending(PendingExit, sig, e.timings.Get().ExitTimeout)
}

// beginPending installs a new pending action, cancelling and replacing any
// previous one. The prior timer is stopped synchronously before the
// replacement's side effects, so a cancelled deadline can never fire.
func (e *Engine) beginPending(kind PendingKind, sig signal.Signal, timeout time.Duration) {
	e.clearPending()

	now := e.clock.Now()
	token := e.tokens.Generate()
	p := &PendingAction{
		Kind:      kind,
		FenceID:   sig.FenceID,
		FenceName: sig.FenceName,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
		Token:     token,
	}
	p.timer = e.clock.AfterFunc(timeout, func() {
		e.queue.Enqueue(event{kind: eventTimer, purpose: timerPending, token: token})
	})
	e.pending = p

	slog.Info("pending action created",
		"kind", kind.String(), "fence", p.FenceID, "deadline", p.Deadline)

	switch kind {
	case PendingEnter:
		e.notifier.EnterPrompt(p.view())
	case PendingExit:
		e.notifier.ExitPrompt(p.view())
	case PendingReturn:
		e.notifier.ReturnPrompt(p.view())
	}
}

// clearPending cancels the current pending action and its prompt.
func (e *Engine) clearPending() {
	if e.pending == nil {
		return
	}
	e.pending.cancel()
	e.pending = nil
	e.notifier.Clear()
}

// takePending detaches and returns the current pending action with its
// timer stopped, without clearing the prompt (the caller will replace it).
func (e *Engine) takePending() *PendingAction {
	p := e.pending
	if p != nil {
		p.cancel()
		e.pending = nil
	}
	return p
}

func (e *Engine) handleTimer(ctx context.Context, ev event) {
	switch ev.purpose {
	case timerPending:
		e.firePendingDeadline(ctx, ev.token)
	case timerPause:
		e.firePauseDeadline(ev.token)
	case timerAlarm:
		e.fireAlarmDeadline(ctx, ev.token)
	case timerReconcile:
		if ev.token != e.reconcileToken {
			return
		}
		e.reconcileToken = ""
		e.runReconcile(ctx, "reconfigure")
	case timerHeartbeat:
		if ev.token != e.heartbeatToken {
			return
		}
		e.runReconcile(ctx, "heartbeat")
		e.scheduleHeartbeat()
	}
}

// firePendingDeadline applies the default action of an expired pending
// decision.
func (e *Engine) firePendingDeadline(ctx context.Context, token string) {
	p := e.pending
	if p == nil || p.Token != token {
		slog.Debug("stale pending deadline ignored", "token", token)
		return
	}
	e.pending = nil

	t := e.timings.Get()
	switch p.Kind {
	case PendingEnter:
		slog.Info("entry timeout: starting session automatically", "fence", p.FenceID)
		e.commitOpen(ctx, p.FenceID, p.FenceName, SessionAutomatic)
	case PendingExit:
		slog.Info("exit timeout: ending session automatically", "fence", p.FenceID)
		e.commitClose(ctx, p.FenceID, t.ExitAdjustmentMinutes)
	case PendingReturn:
		// The user physically re-entered; presence is evidenced, so the
		// default keeps the session running.
		slog.Info("return timeout: resuming session", "fence", p.FenceID)
		e.clearPause()
		e.notifier.Clear()
	}
}

// firePauseDeadline escalates an expired pause to the urgent confirmation
// phase.
func (e *Engine) firePauseDeadline(token string) {
	ps := e.paused
	if ps == nil || ps.Token != token || ps.Alarm {
		slog.Debug("stale pause deadline ignored", "token", token)
		return
	}

	now := e.clock.Now()
	alarmToken := e.tokens.Generate()
	ps.Alarm = true
	ps.Token = alarmToken
	ps.Deadline = now.Add(e.timings.Get().AlarmResponseTimeout)
	ps.timer = e.clock.AfterFunc(e.timings.Get().AlarmResponseTimeout, func() {
		e.queue.Enqueue(event{kind: eventTimer, purpose: timerAlarm, token: alarmToken})
	})

	slog.Info("pause limit reached, raising urgent prompt",
		"fence", ps.FenceID, "respond_by", ps.Deadline)
	e.notifier.PauseExpired(ps.view())
}

// fireAlarmDeadline resolves an unanswered urgent prompt with a live
// position check: inside the fence resumes, outside or unknown ends the
// session. Failing safe toward ending never leaks open time.
func (e *Engine) fireAlarmDeadline(ctx context.Context, token string) {
	ps := e.paused
	if ps == nil || ps.Token != token || !ps.Alarm {
		slog.Debug("stale alarm deadline ignored", "token", token)
		return
	}
	e.paused = nil

	fence := e.fenceByID(ps.FenceID)
	pos, err := e.position.CurrentPosition(ctx)
	if err == nil && fence != nil && fence.ContainsExpanded(pos, e.timings.Get().ExitHysteresisFactor) {
		slog.Info("pause expired unanswered, user still on site: resuming", "fence", ps.FenceID)
		e.audit.Record(ctx, AuditEntry{
			Kind: "pause_auto_resume", UserID: e.userID, FenceID: ps.FenceID,
		})
		e.notifier.Clear()
		return
	}

	slog.Info("pause expired unanswered, ending session",
		"fence", ps.FenceID, "position_known", err == nil)
	e.audit.Record(ctx, AuditEntry{
		Kind: "pause_auto_stop", UserID: e.userID, FenceID: ps.FenceID,
	})
	e.commitClose(ctx, ps.FenceID, 0)
}

// beginPause suspends the session at the given fence.
func (e *Engine) beginPause(fenceID, fenceName string) {
	now := e.clock.Now()
	limit := e.timings.Get().PauseLimit
	token := e.tokens.Generate()
	ps := &PauseState{
		FenceID:   fenceID,
		FenceName: fenceName,
		StartedAt: now,
		Deadline:  now.Add(limit),
		Token:     token,
	}
	ps.timer = e.clock.AfterFunc(limit, func() {
		e.queue.Enqueue(event{kind: eventTimer, purpose: timerPause, token: token})
	})
	e.paused = ps

	slog.Info("session paused", "fence", fenceID, "deadline", ps.Deadline)
	e.notifier.PauseCountdown(ps.view())
}

// clearPause cancels the pause (and any confirmation sub-timer).
func (e *Engine) clearPause() {
	if e.paused == nil {
		return
	}
	e.paused.cancel()
	e.paused = nil
}

func (e *Engine) handleBootReady(ctx context.Context) {
	if e.ready {
		slog.Debug("boot gate already open")
		return
	}

	e.resolveUser(ctx)
	e.reloadFences(ctx)
	if err := e.position.StartRegionMonitoring(e.fences); err != nil {
		slog.Warn("starting region monitoring failed", "error", err)
	}
	e.ready = true

	t := e.timings.Get()
	now := e.clock.Now()
	survivors, stale := e.boot.drain(now, t.MaxEventAge)
	if stale > 0 {
		slog.Info("stale boot-queue signals dropped", "count", stale)
		e.audit.Record(ctx, AuditEntry{Kind: "boot_queue_stale", Detail: strconv.Itoa(stale)})
	}
	slog.Info("boot gate open, replaying queued signals",
		"replay", len(survivors), "dropped", stale, "user", e.userID)

	for _, qs := range survivors {
		sig := qs.sig
		// Re-resolve a display name that was missing at enqueue time.
		if f := e.fenceByID(sig.FenceID); f != nil && sig.FenceName == "" {
			sig.FenceName = f.Name
		}
		if e.userID == "" {
			slog.Warn("replayed signal skipped: no user identity", "fence", sig.FenceID)
			continue
		}
		e.dispatchSignal(ctx, sig, e.fenceByID(sig.FenceID))
	}

	e.scheduleHeartbeat()
}

func (e *Engine) handleReset() {
	slog.Info("engine reset: closing boot gate")
	e.clearPending()
	e.clearPause()
	e.skipped.reset()
	e.ready = false
	e.userID = ""
	e.activeFenceID = ""
	e.trackingSince = time.Time{}
	e.boot = newBootQueue(e.timings.Get().BootQueueCapacity)
	if e.heartbeatTimer != nil {
		e.heartbeatTimer.Stop()
		e.heartbeatTimer = nil
		e.heartbeatToken = ""
	}
	if e.reconcileTimer != nil {
		e.reconcileTimer.Stop()
		e.reconcileTimer = nil
		e.reconcileToken = ""
	}
	_ = e.position.StopRegionMonitoring()
}

// handleRefreshFences rebuilds region monitoring around a suppression
// window and schedules the mandatory reconcile pass for window close.
func (e *Engine) handleRefreshFences(ctx context.Context) {
	until := e.filter.BeginReconfigure()

	if err := e.position.StopRegionMonitoring(); err != nil {
		slog.Warn("stopping region monitoring failed", "error", err)
	}
	e.reloadFences(ctx)
	if err := e.position.StartRegionMonitoring(e.fences); err != nil {
		slog.Warn("starting region monitoring failed", "error", err)
	}

	if e.reconcileTimer != nil {
		e.reconcileTimer.Stop()
	}
	token := e.tokens.Generate()
	e.reconcileToken = token
	d := until.Sub(e.clock.Now())
	e.reconcileTimer = e.clock.AfterFunc(d, func() {
		e.queue.Enqueue(event{kind: eventTimer, purpose: timerReconcile, token: token})
	})
	slog.Info("fence list refreshed", "fences", len(e.fences), "reconcile_at", until)
}

func (e *Engine) resolveUser(ctx context.Context) {
	if e.pinnedUserID != "" {
		e.userID = e.pinnedUserID
		if e.identity != nil {
			if err := e.identity.SetBackgroundUserID(ctx, e.userID); err != nil {
				slog.Warn("persisting background user id failed", "error", err)
			}
		}
		return
	}
	if e.identity == nil {
		slog.Warn("no identity store and no pinned user; operations will be skipped")
		return
	}
	id, err := e.identity.BackgroundUserID(ctx)
	if err != nil {
		// Fatal misconfiguration for this boot: skip affected operations
		// rather than guessing a user context.
		slog.Warn("no background user identity; operations will be skipped", "error", err)
		return
	}
	e.userID = id
}

func (e *Engine) reloadFences(ctx context.Context) {
	fences, err := e.registry.ListActiveFences(ctx, e.userID)
	if err != nil {
		slog.Warn("fence registry refresh failed, keeping previous snapshot",
			"error", err, "cached", len(e.fences))
		return
	}
	e.fences = fences
}

func (e *Engine) fenceByID(id string) *geo.Fence {
	for i := range e.fences {
		if e.fences[i].ID == id {
			return &e.fences[i]
		}
	}
	return nil
}

// scheduleHeartbeat (re)arms the periodic reconcile tick with the current
// interval. Cancelling the previous timer first keeps exactly one tick
// outstanding.
func (e *Engine) scheduleHeartbeat() {
	if e.heartbeatTimer != nil {
		e.heartbeatTimer.Stop()
	}
	interval := e.timings.Get().HeartbeatInterval
	token := e.tokens.Generate()
	e.heartbeatToken = token
	e.heartbeatTimer = e.clock.AfterFunc(interval, func() {
		e.queue.Enqueue(event{kind: eventTimer, purpose: timerHeartbeat, token: token})
	})
	slog.Debug("heartbeat scheduled", "interval", interval)
}

// runReconcile performs one consistency pass and folds the outcome back
// into engine state.
func (e *Engine) runReconcile(ctx context.Context, origin string) {
	res := e.reconciler.RunOnce(ctx, ReconcileInput{
		UserID: e.userID,
		Fences: e.fences,
		SkippedToday: func(fenceID string) bool {
			return e.skipped.contains(e.clock.Now(), fenceID)
		},
		PausedFenceID: pausedFenceID(e.paused),
		Origin:        origin,
	})

	switch res.Outcome {
	case OutcomeMissedEntry:
		e.activeFenceID = res.FenceID
		e.trackingSince = e.clock.Now()
	case OutcomeMissedExit:
		// Any in-flight decision about that fence is now moot.
		if e.pending != nil && e.pending.FenceID == res.FenceID {
			e.clearPending()
		}
		e.activeFenceID = ""
		e.trackingSince = time.Time{}
	}
}

func pausedFenceID(ps *PauseState) string {
	if ps == nil {
		return ""
	}
	return ps.FenceID
}

// Status is a point-in-time snapshot for the status surface.
type Status struct {
	Ready             bool            `json:"ready"`
	UserID            string          `json:"userId,omitempty"`
	FenceCount        int             `json:"fenceCount"`
	Pending           *PendingView    `json:"pending,omitempty"`
	Paused            *PauseView      `json:"paused,omitempty"`
	ActiveFenceID     string          `json:"activeFenceId,omitempty"`
	TrackingSince     *time.Time      `json:"trackingSince,omitempty"`
	BootQueueDepth    int             `json:"bootQueueDepth"`
	BootQueueDropped  int             `json:"bootQueueDropped"`
	HeartbeatInterval time.Duration   `json:"heartbeatIntervalNs"`
	FilterStats       signal.Counters `json:"filterStats"`
}

// Status returns a snapshot of the engine's derived state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Ready:             e.ready,
		UserID:            e.userID,
		FenceCount:        len(e.fences),
		ActiveFenceID:     e.activeFenceID,
		BootQueueDepth:    e.boot.len(),
		BootQueueDropped:  e.boot.dropped,
		HeartbeatInterval: e.timings.Get().HeartbeatInterval,
		FilterStats:       e.filter.Stats(),
	}
	if e.pending != nil {
		v := e.pending.view()
		st.Pending = &v
	}
	if e.paused != nil {
		v := e.paused.view()
		st.Paused = &v
	}
	if !e.trackingSince.IsZero() {
		ts := e.trackingSince
		st.TrackingSince = &ts
	}
	return st
}
