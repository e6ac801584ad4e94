package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/signal"
)

func TestBoot_QueuesAndReplaysSignals(t *testing.T) {
	f := newFixture(t)

	f.signal(signal.KindEnter, f.siteA)
	st := f.eng.Status()
	assert.False(t, st.Ready)
	assert.Equal(t, 1, st.BootQueueDepth)
	assert.Nil(t, st.Pending, "nothing dispatched behind the gate")

	require.True(t, f.eng.SetReady())
	f.eng.Drain(f.ctx)

	st = f.eng.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 0, st.BootQueueDepth)
	require.NotNil(t, st.Pending)
	assert.Equal(t, engine.PendingEnter, st.Pending.Kind)
	// The display name was resolved at replay, not enqueue.
	assert.Equal(t, "Berlin Depot", st.Pending.FenceName)
}

func TestBoot_DropsStaleQueuedSignals(t *testing.T) {
	f := newFixture(t)

	// Carries its own OS timestamp from 31s ago: past the age bound.
	require.True(t, f.eng.HandleSignal(signal.Signal{
		Kind:    signal.KindEnter,
		FenceID: f.siteA.ID,
		At:      epoch.Add(-31 * time.Second),
	}))
	f.eng.Drain(f.ctx)
	f.signal(signal.KindEnter, f.siteB)

	require.True(t, f.eng.SetReady())
	f.eng.Drain(f.ctx)

	require.Contains(t, f.audit.Kinds(), "boot_queue_stale")
	st := f.eng.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, "site-b", st.Pending.FenceID, "only the fresh signal replays")
}

func TestBoot_QueueEvictsOldestWhenFull(t *testing.T) {
	f := newFixture(t)

	// Default capacity is 10; the 11th arrival evicts the first.
	for i := 0; i < 11; i++ {
		require.True(t, f.eng.HandleSignal(signal.Signal{
			Kind:    signal.KindEnter,
			FenceID: fmt.Sprintf("fence-%d", i),
		}))
		f.eng.Drain(f.ctx)
	}

	st := f.eng.Status()
	assert.Equal(t, 10, st.BootQueueDepth)
	assert.Equal(t, 1, st.BootQueueDropped)

	entries := f.audit.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "boot_queue_evicted", entries[0].Kind)
	assert.Equal(t, "fence-0", entries[0].FenceID)
}

func TestBoot_StartsRegionMonitoring(t *testing.T) {
	f := readyFixture(t)
	assert.Len(t, f.position.Monitoring(), 2)
	assert.Equal(t, 1, f.position.Restarts())
}

func TestBoot_SetReadyIsIdempotent(t *testing.T) {
	f := readyFixture(t)
	require.True(t, f.eng.SetReady())
	f.eng.Drain(f.ctx)
	assert.True(t, f.eng.Status().Ready)
	assert.Equal(t, 1, f.position.Restarts())
}

func TestRefreshFences_SuppressesSignalsThenReconciles(t *testing.T) {
	f := readyFixture(t)

	require.True(t, f.eng.RefreshFences())
	f.eng.Drain(f.ctx)
	assert.True(t, f.eng.Filter().Reconfiguring())
	assert.Equal(t, 2, f.position.Restarts())

	// Signals inside the window are churn from re-registration.
	f.signal(signal.KindEnter, f.siteA)
	assert.Nil(t, f.eng.Status().Pending)
	assert.Equal(t, 1, f.eng.Filter().Stats().Reconfigure)

	// Window close runs the mandatory reconcile pass.
	f.advance(5 * time.Second)
	runs, outcome := f.eng.Reconciler().Runs()
	assert.Equal(t, 1, runs)
	assert.Equal(t, engine.OutcomeConsistent, outcome)

	// And live processing resumes.
	f.advance(10 * time.Second)
	f.signal(signal.KindEnter, f.siteA)
	require.NotNil(t, f.eng.Status().Pending)
}

func TestRefreshFences_ReconcileCatchesTransitionMadeDuringWindow(t *testing.T) {
	f := readyFixture(t)

	// The user walks onto site A exactly while regions re-register: the
	// enter callback is suppressed, the closing reconcile catches it.
	f.position.Set(geo.Position{Lat: f.siteA.Lat, Lng: f.siteA.Lng, AccuracyMeters: 5})
	require.True(t, f.eng.RefreshFences())
	f.eng.Drain(f.ctx)
	f.signal(signal.KindEnter, f.siteA)
	require.Empty(t, f.sessions.Sessions())

	f.advance(5 * time.Second)

	sessions := f.sessions.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, engine.SessionAutomatic, sessions[0].Kind)
	assert.Equal(t, "site-a", sessions[0].FenceID)
	assert.Contains(t, f.audit.Kinds(), "missed_entry")
}

func TestHeartbeat_CorrectsMissedEntry(t *testing.T) {
	f := readyFixture(t)

	f.position.Set(geo.Position{Lat: f.siteB.Lat, Lng: f.siteB.Lng, AccuracyMeters: 5})
	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	sessions := f.sessions.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "site-b", sessions[0].FenceID)
	assert.Equal(t, engine.SessionAutomatic, sessions[0].Kind)
	assert.Equal(t, "site-b", f.eng.Status().ActiveFenceID)
	assert.Contains(t, f.audit.Kinds(), "missed_entry")
}

func TestHeartbeat_CorrectsMissedExit(t *testing.T) {
	f := readyFixture(t)
	f.openSession(f.siteA)

	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	assert.Equal(t, 0, f.sessions.OpenCount())
	assert.Contains(t, f.audit.Kinds(), "missed_exit")
	assert.Empty(t, f.eng.Status().ActiveFenceID)

	sessions := f.sessions.Sessions()
	require.NotNil(t, sessions[0].ExitTime)
	// The true departure is unknowable: no adjustment.
	assert.Equal(t, 0, sessions[0].MinuteAdjustment)
}

func TestHeartbeat_MissedExitClearsPendingAtThatFence(t *testing.T) {
	f := readyFixture(t)
	f.openSession(f.siteA)

	f.signal(signal.KindExit, f.siteA)
	require.NotNil(t, f.eng.Status().Pending)

	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	assert.Nil(t, f.eng.Status().Pending, "the decision is moot once the session closed")
	assert.Equal(t, 0, f.sessions.OpenCount())
}

func TestHeartbeat_ExpandedRadiusMatchesExitRule(t *testing.T) {
	f := readyFixture(t)
	f.openSession(f.siteA)

	// 250m out is still "present" under the expanded-radius rule, so no
	// missed exit is declared.
	f.position.MoveMetersNorth(f.siteA, 250)
	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	assert.Equal(t, 1, f.sessions.OpenCount())
}

func TestHeartbeat_PositionFailureSkipsPass(t *testing.T) {
	f := readyFixture(t)
	f.openSession(f.siteA)

	f.position.SetUnavailable()
	require.True(t, f.eng.RequestHeartbeat())
	f.eng.Drain(f.ctx)

	_, outcome := f.eng.Reconciler().Runs()
	assert.Equal(t, engine.OutcomeSkipped, outcome)
	assert.Equal(t, 1, f.sessions.OpenCount(), "no correction on a failed pass")
}

func TestHeartbeat_PeriodicTickFires(t *testing.T) {
	f := readyFixture(t)
	f.position.Set(geo.Position{Lat: f.siteA.Lat, Lng: f.siteA.Lng, AccuracyMeters: 5})

	// Default interval is 15 minutes.
	f.advance(15 * time.Minute)

	assert.Equal(t, 1, f.sessions.OpenCount())
	runs, outcome := f.eng.Reconciler().Runs()
	assert.Equal(t, 1, runs)
	assert.Equal(t, engine.OutcomeMissedEntry, outcome)
}

func TestHeartbeat_UpdateIntervalTakesEffectImmediately(t *testing.T) {
	f := readyFixture(t)
	f.position.Set(geo.Position{Lat: f.siteA.Lat, Lng: f.siteA.Lng, AccuracyMeters: 5})

	require.NoError(t, f.eng.UpdateHeartbeatInterval(time.Minute))
	f.eng.Drain(f.ctx)
	assert.Equal(t, time.Minute, f.eng.Status().HeartbeatInterval)

	f.advance(time.Minute)
	assert.Equal(t, 1, f.sessions.OpenCount())
}

func TestHeartbeat_ForegroundBackgroundPresets(t *testing.T) {
	f := readyFixture(t)

	require.NoError(t, f.eng.SetForeground(true))
	f.eng.Drain(f.ctx)
	assert.Equal(t, 5*time.Minute, f.eng.Status().HeartbeatInterval)

	require.NoError(t, f.eng.SetForeground(false))
	f.eng.Drain(f.ctx)
	assert.Equal(t, 30*time.Minute, f.eng.Status().HeartbeatInterval)
}

func TestDedup_RepeatSignalSuppressed(t *testing.T) {
	f := readyFixture(t)

	f.signal(signal.KindEnter, f.siteA)
	first := f.eng.Status().Pending
	require.NotNil(t, first)

	// Guard releases on processing; the repeat lands in the same dedupe
	// bucket and is dropped, so the original deadline stands.
	f.signal(signal.KindEnter, f.siteA)

	st := f.eng.Status()
	require.NotNil(t, st.Pending)
	assert.Equal(t, first.Deadline, st.Pending.Deadline)
	assert.Equal(t, 1, f.eng.Filter().Stats().Duplicate)
}
