package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/signal"
)

// pausedFixture gets a fixture into the paused state: session open at
// site A, exit prompt answered with pause.
func pausedFixture(t *testing.T) *fixture {
	t.Helper()
	f := readyFixture(t)
	f.openSession(f.siteA)
	f.signal(signal.KindExit, f.siteA)
	f.decide(engine.DecisionPause)

	st := f.eng.Status()
	require.Nil(t, st.Pending)
	require.NotNil(t, st.Paused)
	require.False(t, st.Paused.Urgent)
	return f
}

func TestPause_SuspendsWithoutClosing(t *testing.T) {
	f := pausedFixture(t)

	st := f.eng.Status()
	assert.Equal(t, "site-a", st.Paused.FenceID)
	assert.Equal(t, epoch.Add(30*time.Minute), st.Paused.Deadline)
	assert.Equal(t, 1, f.sessions.OpenCount())
	assert.Contains(t, f.notifier.Ops(), "pause")
}

func TestPause_ResumeKeepsSessionOpen(t *testing.T) {
	f := pausedFixture(t)

	f.advance(10 * time.Minute)
	f.decide(engine.DecisionResume)

	assert.Nil(t, f.eng.Status().Paused)
	assert.Equal(t, 1, f.sessions.OpenCount())

	// Back on site, the cancelled pause deadline never escalates and the
	// heartbeat finds a consistent picture.
	f.position.Set(geo.Position{Lat: f.siteA.Lat, Lng: f.siteA.Lng, AccuracyMeters: 5})
	f.advance(time.Hour)
	assert.Equal(t, 1, f.sessions.OpenCount())
	assert.Nil(t, f.eng.Status().Paused)
}

func TestPause_StopClosesImmediately(t *testing.T) {
	f := pausedFixture(t)

	f.advance(10 * time.Minute)
	f.decide(engine.DecisionStop)

	assert.Nil(t, f.eng.Status().Paused)
	sessions := f.sessions.Sessions()
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].ExitTime)
	// Stop carries no adjustment: the user answered in the moment.
	assert.Equal(t, epoch.Add(10*time.Minute), *sessions[0].ExitTime)
	assert.Equal(t, 0, sessions[0].MinuteAdjustment)
}

func TestPause_SnoozeRestartsDeadline(t *testing.T) {
	f := pausedFixture(t)

	f.advance(10 * time.Minute)
	f.decide(engine.DecisionSnooze)

	st := f.eng.Status()
	require.NotNil(t, st.Paused)
	assert.Equal(t, epoch.Add(40*time.Minute), st.Paused.Deadline)

	// Past the original deadline: the old timer is dead, no escalation.
	f.advance(25 * time.Minute)
	require.NotNil(t, f.eng.Status().Paused)
	assert.False(t, f.eng.Status().Paused.Urgent)

	f.advance(5 * time.Minute)
	assert.True(t, f.eng.Status().Paused.Urgent)
}

func TestPause_ExpiryEscalatesThenStopsWhenAway(t *testing.T) {
	f := pausedFixture(t)

	f.advance(30 * time.Minute)
	st := f.eng.Status()
	require.NotNil(t, st.Paused)
	assert.True(t, st.Paused.Urgent)
	assert.Equal(t, epoch.Add(31*time.Minute), st.Paused.Deadline)
	assert.Contains(t, f.notifier.Ops(), "pause_expired")
	assert.Equal(t, 1, f.sessions.OpenCount(), "escalation alone must not close")

	// Unanswered, position still far away: the session ends.
	f.advance(time.Minute)
	assert.Nil(t, f.eng.Status().Paused)
	assert.Equal(t, 0, f.sessions.OpenCount())
	assert.Contains(t, f.audit.Kinds(), "pause_auto_stop")

	sessions := f.sessions.Sessions()
	require.NotNil(t, sessions[0].ExitTime)
	assert.Equal(t, 0, sessions[0].MinuteAdjustment)
}

func TestPause_ExpiryResumesWhenStillOnSite(t *testing.T) {
	f := pausedFixture(t)

	f.advance(30 * time.Minute)
	require.True(t, f.eng.Status().Paused.Urgent)

	// Within the expanded radius when the confirmation window lapses.
	f.position.MoveMetersNorth(f.siteA, 250)
	f.advance(time.Minute)

	assert.Nil(t, f.eng.Status().Paused)
	assert.Equal(t, 1, f.sessions.OpenCount())
	assert.Contains(t, f.audit.Kinds(), "pause_auto_resume")
	assert.NotContains(t, f.audit.Kinds(), "pause_auto_stop")
}

func TestPause_BlocksExitAtOwnFence(t *testing.T) {
	f := pausedFixture(t)

	f.advance(30 * time.Second)
	f.signal(signal.KindExit, f.siteA)

	assert.Nil(t, f.eng.Status().Pending)
	assert.Equal(t, 1, f.sessions.OpenCount())
}

func TestPause_ReconcilerWithholdsCorrection(t *testing.T) {
	f := pausedFixture(t)

	// Far from the fence with a session open: normally a missed exit,
	// but the pause owns this session.
	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	assert.Equal(t, 1, f.sessions.OpenCount())
	assert.NotContains(t, f.audit.Kinds(), "missed_exit")
}

func TestReturn_ReentryWhilePausedPrompts(t *testing.T) {
	f := pausedFixture(t)

	f.signal(signal.KindEnter, f.siteA)

	st := f.eng.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, engine.PendingReturn, st.Pending.Kind)
	assert.Equal(t, epoch.Add(5*time.Minute), st.Pending.Deadline)
	assert.NotNil(t, st.Paused, "pause stays up until the return resolves")
	assert.Contains(t, f.notifier.Ops(), "return")
}

func TestReturn_ResumeClearsPauseAndPrompt(t *testing.T) {
	f := pausedFixture(t)
	f.signal(signal.KindEnter, f.siteA)

	f.decide(engine.DecisionResume)

	st := f.eng.Status()
	assert.Nil(t, st.Pending)
	assert.Nil(t, st.Paused)
	assert.Equal(t, 1, f.sessions.OpenCount())
}

func TestReturn_StopClosesWithoutAdjustment(t *testing.T) {
	f := pausedFixture(t)
	f.signal(signal.KindEnter, f.siteA)

	f.decide(engine.DecisionStop)

	st := f.eng.Status()
	assert.Nil(t, st.Pending)
	assert.Nil(t, st.Paused)
	assert.Equal(t, 0, f.sessions.OpenCount())
	assert.Equal(t, 0, f.sessions.Sessions()[0].MinuteAdjustment)
}

func TestReturn_DeadlineDefaultsToResume(t *testing.T) {
	f := pausedFixture(t)
	f.signal(signal.KindEnter, f.siteA)

	// The user physically re-entered; unanswered, presence wins.
	f.advance(5 * time.Minute)

	st := f.eng.Status()
	assert.Nil(t, st.Pending)
	assert.Nil(t, st.Paused)
	assert.Equal(t, 1, f.sessions.OpenCount())
}

func TestReturn_FenceNameCarriedFromPause(t *testing.T) {
	f := pausedFixture(t)

	// Even with the registry emptied, the pause remembers the name.
	f.registry.SetFences()
	require.True(t, f.eng.RefreshFences())
	f.eng.Drain(f.ctx)
	f.advance(10 * time.Second) // clear the reconfigure window

	f.signal(signal.KindEnter, f.siteA)
	require.NotNil(t, f.eng.Status().Pending)
	assert.Equal(t, "Berlin Depot", f.eng.Status().Pending.FenceName)
}

func TestPause_OtherFenceSignalsStillProcessed(t *testing.T) {
	f := pausedFixture(t)

	// An enter at another fence is blocked only by the open session,
	// not by the pause: still no second pending, but for the session
	// reason, and an exit there is a plain no-op.
	f.signal(signal.KindEnter, f.siteB)
	assert.Nil(t, f.eng.Status().Pending)

	f.advance(30 * time.Second)
	f.signal(signal.KindExit, f.siteB)
	assert.Nil(t, f.eng.Status().Pending)
	assert.Equal(t, 1, f.sessions.OpenCount())
	assert.NotNil(t, f.eng.Status().Paused)
}

func TestPause_PositionUnknownAtAlarmEndsSession(t *testing.T) {
	f := pausedFixture(t)

	f.advance(30 * time.Minute)
	f.position.SetUnavailable()
	f.advance(time.Minute)

	// No sample to prove presence: fail toward ending.
	assert.Equal(t, 0, f.sessions.OpenCount())
	assert.Contains(t, f.audit.Kinds(), "pause_auto_stop")
}
