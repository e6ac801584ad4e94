package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
)

// MemSessionStore is an in-memory engine.SessionStore keeping the full
// session history for assertions.
type MemSessionStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions []*engine.Session
	seq      int

	// FailNext makes the next store call return an error, for transient
	// failure paths.
	FailNext bool
}

// NewMemSessionStore creates a store stamping times from now.
func NewMemSessionStore(now func() time.Time) *MemSessionStore {
	return &MemSessionStore{now: now}
}

func (s *MemSessionStore) failNext() error {
	if s.FailNext {
		s.FailNext = false
		return fmt.Errorf("injected store failure")
	}
	return nil
}

// OpenSession implements engine.SessionStore.
func (s *MemSessionStore) OpenSession(_ context.Context, userID, fenceID, fenceName string, kind engine.SessionKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return "", err
	}
	s.seq++
	sess := &engine.Session{
		ID:        fmt.Sprintf("session-%d", s.seq),
		UserID:    userID,
		FenceID:   fenceID,
		FenceName: fenceName,
		EntryTime: s.now(),
		Kind:      kind,
	}
	s.sessions = append(s.sessions, sess)
	return sess.ID, nil
}

// CloseSession implements engine.SessionStore.
func (s *MemSessionStore) CloseSession(_ context.Context, userID, fenceID string, minuteAdjustment int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.FenceID == fenceID && sess.ExitTime == nil {
			exit := s.now().Add(-time.Duration(minuteAdjustment) * time.Minute)
			if exit.Before(sess.EntryTime) {
				exit = sess.EntryTime
			}
			sess.ExitTime = &exit
			sess.MinuteAdjustment = minuteAdjustment
			return nil
		}
	}
	return fmt.Errorf("no open session at fence %s", fenceID)
}

// OpenSessionFor implements engine.SessionStore.
func (s *MemSessionStore) OpenSessionFor(_ context.Context, userID string) (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ExitTime == nil {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

// Sessions returns copies of all sessions in creation order.
func (s *MemSessionStore) Sessions() []engine.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// OpenCount returns the number of sessions with no exit time.
func (s *MemSessionStore) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.ExitTime == nil {
			n++
		}
	}
	return n
}

// StaticRegistry is an engine.FenceRegistry serving a fixed fence list.
type StaticRegistry struct {
	mu     sync.Mutex
	fences []geo.Fence
	Err    error
}

// NewStaticRegistry creates a registry with the given fences.
func NewStaticRegistry(fences ...geo.Fence) *StaticRegistry {
	return &StaticRegistry{fences: fences}
}

// ListActiveFences implements engine.FenceRegistry.
func (r *StaticRegistry) ListActiveFences(context.Context, string) ([]geo.Fence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]geo.Fence, len(r.fences))
	copy(out, r.fences)
	return out, nil
}

// SetFences replaces the fence list (callers then RefreshFences the engine).
func (r *StaticRegistry) SetFences(fences ...geo.Fence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fences = fences
}

// StubPosition is an engine.PositionSource with a settable sample.
type StubPosition struct {
	mu         sync.Mutex
	pos        geo.Position
	err        error
	monitoring []geo.Fence
	starts     int
	stops      int
}

// NewStubPosition creates a source reporting pos.
func NewStubPosition(pos geo.Position) *StubPosition {
	return &StubPosition{pos: pos}
}

// Set replaces the current sample.
func (p *StubPosition) Set(pos geo.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos, p.err = pos, nil
}

// SetUnavailable makes CurrentPosition fail until Set is called.
func (p *StubPosition) SetUnavailable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = engine.ErrPositionUnavailable
}

// MoveMetersNorth places the sample d meters north of the fence center.
func (p *StubPosition) MoveMetersNorth(f geo.Fence, d float64) {
	p.Set(geo.Position{Lat: f.Lat + d/111195.0, Lng: f.Lng, AccuracyMeters: 10})
}

// CurrentPosition implements engine.PositionSource.
func (p *StubPosition) CurrentPosition(context.Context) (geo.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return geo.Position{}, p.err
	}
	return p.pos, nil
}

// StartRegionMonitoring implements engine.PositionSource.
func (p *StubPosition) StartRegionMonitoring(fences []geo.Fence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitoring = fences
	p.starts++
	return nil
}

// StopRegionMonitoring implements engine.PositionSource.
func (p *StubPosition) StopRegionMonitoring() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitoring = nil
	p.stops++
	return nil
}

// Monitoring returns the currently registered fences.
func (p *StubPosition) Monitoring() []geo.Fence {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monitoring
}

// Restarts returns how many times monitoring was started.
func (p *StubPosition) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// NotifierCall is one recorded notification intent.
type NotifierCall struct {
	Op      string // "enter", "exit", "return", "pause", "pause_expired", "clear"
	Pending engine.PendingView
	Pause   engine.PauseView
}

// RecordingNotifier captures notification intents for assertions.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []NotifierCall
}

// EnterPrompt implements engine.Notifier.
func (n *RecordingNotifier) EnterPrompt(v engine.PendingView) { n.record("enter", v, engine.PauseView{}) }

// ExitPrompt implements engine.Notifier.
func (n *RecordingNotifier) ExitPrompt(v engine.PendingView) { n.record("exit", v, engine.PauseView{}) }

// ReturnPrompt implements engine.Notifier.
func (n *RecordingNotifier) ReturnPrompt(v engine.PendingView) {
	n.record("return", v, engine.PauseView{})
}

// PauseCountdown implements engine.Notifier.
func (n *RecordingNotifier) PauseCountdown(v engine.PauseView) {
	n.record("pause", engine.PendingView{}, v)
}

// PauseExpired implements engine.Notifier.
func (n *RecordingNotifier) PauseExpired(v engine.PauseView) {
	n.record("pause_expired", engine.PendingView{}, v)
}

// Clear implements engine.Notifier.
func (n *RecordingNotifier) Clear() { n.record("clear", engine.PendingView{}, engine.PauseView{}) }

func (n *RecordingNotifier) record(op string, pv engine.PendingView, psv engine.PauseView) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, NotifierCall{Op: op, Pending: pv, Pause: psv})
}

// Calls returns all recorded intents.
func (n *RecordingNotifier) Calls() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotifierCall, len(n.calls))
	copy(out, n.calls)
	return out
}

// Ops returns just the operation names, in order.
func (n *RecordingNotifier) Ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ops := make([]string, len(n.calls))
	for i, c := range n.calls {
		ops[i] = c.Op
	}
	return ops
}

// MemAudit is an in-memory engine.AuditLog.
type MemAudit struct {
	mu      sync.Mutex
	entries []engine.AuditEntry
}

// Record implements engine.AuditLog.
func (a *MemAudit) Record(_ context.Context, e engine.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

// Entries returns all recorded audit entries.
func (a *MemAudit) Entries() []engine.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]engine.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Kinds returns the entry kinds in order.
func (a *MemAudit) Kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]string, len(a.entries))
	for i, e := range a.entries {
		kinds[i] = e.Kind
	}
	return kinds
}

// MemIdentity is an in-memory engine.IdentityStore.
type MemIdentity struct {
	mu sync.Mutex
	id string
}

// BackgroundUserID implements engine.IdentityStore.
func (m *MemIdentity) BackgroundUserID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return "", engine.ErrNoIdentity
	}
	return m.id, nil
}

// SetBackgroundUserID implements engine.IdentityStore.
func (m *MemIdentity) SetBackgroundUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = userID
	return nil
}

// ClearBackgroundUserID implements engine.IdentityStore.
func (m *MemIdentity) ClearBackgroundUserID(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}
