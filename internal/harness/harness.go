// Package harness executes deterministic geofence scenarios and renders a
// textual transcript of everything the engine did: notification intents,
// audit entries and the derived state after each step. Transcripts are
// compared against golden files, so a behavior change anywhere in the
// signal-to-session pipeline shows up as a readable diff.
package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geoshift/geoshift/internal/config"
	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/signal"
	"github.com/geoshift/geoshift/internal/testutil"
)

// Scenario geometry anchor. meters_north offsets are applied to this
// latitude; 111195 meters per degree.
const (
	anchorLat      = 52.5200
	anchorLng      = 13.4050
	metersPerDeg   = 111195.0
	defaultRadiusM = 200.0
	defaultUser    = "worker-1"

	// The periodic reconcile tick stays outside the scenario horizon
	// unless a scenario overrides it.
	defaultHeartbeat = 24 * time.Hour
)

// scenarioEpoch is the fixed start time every scenario runs from.
var scenarioEpoch = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// Result holds everything a scenario run produced.
type Result struct {
	// Transcript is the deterministic text rendering compared against
	// the golden file.
	Transcript []byte

	// Sessions is the full session history, in creation order.
	Sessions []engine.Session

	// AuditKinds lists recorded audit entry kinds, in order.
	AuditKinds []string
}

// Run executes a scenario from a cold boot on a manual clock and returns
// the transcript. Each run uses fresh in-memory collaborators.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()

	fences := make([]geo.Fence, len(s.Fences))
	byID := make(map[string]geo.Fence, len(s.Fences))
	for i, def := range s.Fences {
		radius := def.RadiusMeters
		if radius == 0 {
			radius = defaultRadiusM
		}
		f := geo.Fence{
			ID:           def.ID,
			Name:         def.Name,
			Lat:          anchorLat + def.MetersNorth/metersPerDeg,
			Lng:          anchorLng,
			RadiusMeters: radius,
			Active:       true,
		}
		fences[i] = f
		byID[f.ID] = f
	}

	user := s.User
	if user == "" {
		user = defaultUser
	}
	timings := config.DefaultTimings()
	timings.HeartbeatInterval = defaultHeartbeat
	if s.HeartbeatInterval != "" {
		d, err := time.ParseDuration(s.HeartbeatInterval)
		if err != nil {
			return nil, fmt.Errorf("heartbeat_interval: %w", err)
		}
		timings.HeartbeatInterval = d
	}

	clock := testutil.NewManualClock(scenarioEpoch)
	sessions := testutil.NewMemSessionStore(clock.Now)
	position := testutil.NewStubPosition(geo.Position{})
	position.SetUnavailable()
	notifier := &testutil.RecordingNotifier{}
	audit := &testutil.MemAudit{}

	eng := engine.New(engine.Deps{
		Clock:    clock,
		Timings:  config.NewStore(timings),
		Sessions: sessions,
		Registry: testutil.NewStaticRegistry(fences...),
		Position: position,
		Notifier: notifier,
		Audit:    audit,
		Tokens:   engine.NewSequenceGenerator("tok"),
		UserID:   user,
	})
	if !s.ManualBoot {
		eng.SetReady()
		eng.Drain(ctx)
	}

	r := &runner{
		byID:     byID,
		clock:    clock,
		sessions: sessions,
		position: position,
		notifier: notifier,
		audit:    audit,
		eng:      eng,
	}
	r.head(fmt.Sprintf("scenario %s", s.Name))
	r.line(s.Description)

	for i, step := range s.Steps {
		if err := r.runStep(ctx, i+1, &step); err != nil {
			return nil, err
		}
	}
	r.renderSessions()

	return &Result{
		Transcript: []byte(r.out.String()),
		Sessions:   sessions.Sessions(),
		AuditKinds: audit.Kinds(),
	}, nil
}

type runner struct {
	byID     map[string]geo.Fence
	clock    *testutil.ManualClock
	sessions *testutil.MemSessionStore
	position *testutil.StubPosition
	notifier *testutil.RecordingNotifier
	audit    *testutil.MemAudit
	eng      *engine.Engine

	out        strings.Builder
	seenNotify int
	seenAudit  int
}

func (r *runner) runStep(ctx context.Context, n int, st *Step) error {
	switch {
	case st.Signal != nil:
		r.head(fmt.Sprintf("step %d: signal %s %s", n, st.Signal.Kind, st.Signal.Fence))
		kind, _ := signal.ParseKind(st.Signal.Kind)
		r.eng.HandleSignal(signal.Signal{Kind: kind, FenceID: st.Signal.Fence})

	case st.Decide != nil:
		desc := st.Decide.Decision
		if st.Decide.AdjustmentMinutes > 0 {
			desc = fmt.Sprintf("%s %dm", desc, st.Decide.AdjustmentMinutes)
		}
		r.head(fmt.Sprintf("step %d: decide %s", n, desc))
		kind, _ := engine.ParseDecisionKind(st.Decide.Decision)
		r.eng.Decide(engine.Decision{Kind: kind, AdjustmentMinutes: st.Decide.AdjustmentMinutes})

	case st.Advance != "":
		r.head(fmt.Sprintf("step %d: advance %s", n, st.Advance))
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("step %d: %w", n, err)
		}
		r.clock.Advance(d)

	case st.Position != nil:
		if st.Position.Unavailable {
			r.head(fmt.Sprintf("step %d: position unavailable", n))
			r.position.SetUnavailable()
		} else {
			r.head(fmt.Sprintf("step %d: position %s %+gm", n, st.Position.Fence, st.Position.MetersNorth))
			f, ok := r.byID[st.Position.Fence]
			if !ok {
				return fmt.Errorf("step %d: unknown fence %q", n, st.Position.Fence)
			}
			r.position.MoveMetersNorth(f, st.Position.MetersNorth)
		}

	case st.Heartbeat:
		r.head(fmt.Sprintf("step %d: heartbeat", n))
		r.eng.RequestHeartbeat()

	case st.BootReady:
		r.head(fmt.Sprintf("step %d: boot ready", n))
		r.eng.SetReady()
	}

	r.eng.Drain(ctx)
	r.renderEffects()
	return nil
}

// renderEffects appends the notifications and audit entries the last step
// produced, then the derived state snapshot.
func (r *runner) renderEffects() {
	calls := r.notifier.Calls()
	for _, c := range calls[r.seenNotify:] {
		switch c.Op {
		case "enter", "exit", "return":
			r.line(fmt.Sprintf("notify %s fence=%s deadline=%s",
				c.Op, c.Pending.FenceID, stamp(c.Pending.Deadline)))
		case "pause", "pause_expired":
			r.line(fmt.Sprintf("notify %s fence=%s deadline=%s",
				c.Op, c.Pause.FenceID, stamp(c.Pause.Deadline)))
		default:
			r.line("notify " + c.Op)
		}
	}
	r.seenNotify = len(calls)

	entries := r.audit.Entries()
	for _, e := range entries[r.seenAudit:] {
		s := "audit " + e.Kind
		if e.FenceID != "" {
			s += " fence=" + e.FenceID
		}
		if e.Detail != "" {
			s += " detail=" + e.Detail
		}
		r.line(s)
	}
	r.seenAudit = len(entries)

	st := r.eng.Status()
	pending := "-"
	if st.Pending != nil {
		pending = fmt.Sprintf("%s:%s", st.Pending.Kind.String(), st.Pending.FenceID)
	}
	pause := "-"
	if st.Paused != nil {
		pause = st.Paused.FenceID
		if st.Paused.Urgent {
			pause += "!"
		}
	}
	active := st.ActiveFenceID
	if active == "" {
		active = "-"
	}
	r.line(fmt.Sprintf("state pending=%s pause=%s active=%s open=%d",
		pending, pause, active, r.sessions.OpenCount()))
}

func (r *runner) renderSessions() {
	r.head("sessions")
	sessions := r.sessions.Sessions()
	if len(sessions) == 0 {
		r.line("(none)")
		return
	}
	for _, s := range sessions {
		exit := "-"
		if s.ExitTime != nil {
			exit = stamp(*s.ExitTime)
		}
		r.line(fmt.Sprintf("%s fence=%s kind=%s entry=%s exit=%s adj=%d",
			s.ID, s.FenceID, s.Kind, stamp(s.EntryTime), exit, s.MinuteAdjustment))
	}
}

func (r *runner) head(s string) {
	r.out.WriteString("== " + s + "\n")
}

func (r *runner) line(s string) {
	r.out.WriteString("   " + s + "\n")
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
