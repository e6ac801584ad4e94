package engine

import (
	"fmt"
	"time"
)

// PendingKind is the kind of an in-flight decision.
type PendingKind int

const (
	// PendingEnter counts down to automatically starting a session.
	PendingEnter PendingKind = iota + 1
	// PendingExit counts down to automatically ending the session.
	PendingExit
	// PendingReturn counts down after re-entering a fence while paused.
	PendingReturn
)

// String returns the log name of the kind.
func (k PendingKind) String() string {
	switch k {
	case PendingEnter:
		return "enter"
	case PendingExit:
		return "exit"
	case PendingReturn:
		return "return"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON payloads.
func (k PendingKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so notification
// payloads decode back into views.
func (k *PendingKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "enter":
		*k = PendingEnter
	case "exit":
		*k = PendingExit
	case "return":
		*k = PendingReturn
	default:
		return fmt.Errorf("unknown pending kind %q", text)
	}
	return nil
}

// PendingAction is the single in-flight decision. At most one exists at a
// time; a new arrival cancels and replaces any previous one. It is destroyed
// by an explicit decision, by deadline expiry (auto-action), or by a
// contradicting signal before the deadline.
//
// The timer handle is owned by the action so the state transition and the
// timer lifecycle cannot drift apart.
type PendingAction struct {
	Kind      PendingKind
	FenceID   string
	FenceName string
	CreatedAt time.Time
	Deadline  time.Time
	Token     string

	timer Timer
}

// cancel stops the deadline timer. Idempotent.
func (p *PendingAction) cancel() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *PendingAction) view() PendingView {
	return PendingView{
		Kind:      p.Kind,
		FenceID:   p.FenceID,
		FenceName: p.FenceName,
		CreatedAt: p.CreatedAt,
		Deadline:  p.Deadline,
	}
}

// PauseState is a user-initiated suspension of an active session while
// still physically near the fence. Created only from a decided exit's
// "pause" branch; destroyed by resume, explicit stop, or deadline expiry
// (which first raises a confirmation sub-timer before defaulting to stop).
//
// Paused coexists with nothing else for its own fence: it blocks new
// enter/exit processing there, but not at a different fence.
type PauseState struct {
	FenceID   string
	FenceName string
	StartedAt time.Time
	Deadline  time.Time
	Token     string

	// Alarm marks the urgent confirmation phase after the pause deadline
	// expired.
	Alarm bool

	timer Timer
}

func (ps *PauseState) cancel() {
	if ps.timer != nil {
		ps.timer.Stop()
	}
}

func (ps *PauseState) view() PauseView {
	return PauseView{
		FenceID:   ps.FenceID,
		FenceName: ps.FenceName,
		StartedAt: ps.StartedAt,
		Deadline:  ps.Deadline,
		Urgent:    ps.Alarm,
	}
}

// skippedSet holds the fence ids the user dismissed for the current
// calendar day. Consulted before creating a pending enter; rolls over
// automatically when the date changes.
type skippedSet struct {
	day string
	ids map[string]struct{}
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

func (s *skippedSet) rollover(now time.Time) {
	if d := dayOf(now); d != s.day {
		s.day = d
		s.ids = make(map[string]struct{})
	}
}

func (s *skippedSet) add(now time.Time, fenceID string) {
	s.rollover(now)
	s.ids[fenceID] = struct{}{}
}

func (s *skippedSet) contains(now time.Time, fenceID string) bool {
	s.rollover(now)
	_, ok := s.ids[fenceID]
	return ok
}

func (s *skippedSet) reset() {
	s.day = ""
	s.ids = make(map[string]struct{})
}
