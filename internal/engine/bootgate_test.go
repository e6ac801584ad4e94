package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/signal"
)

var bootEpoch = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func TestBootQueue_EvictsOldestWhenFull(t *testing.T) {
	q := newBootQueue(3)

	for i := 0; i < 3; i++ {
		evicted := q.push(signal.Signal{Kind: signal.KindEnter, FenceID: fmt.Sprintf("f%d", i)}, bootEpoch)
		assert.Nil(t, evicted)
	}
	require.Equal(t, 3, q.len())

	evicted := q.push(signal.Signal{Kind: signal.KindEnter, FenceID: "f3"}, bootEpoch)
	require.NotNil(t, evicted)
	assert.Equal(t, "f0", evicted.sig.FenceID)
	assert.Equal(t, 3, q.len())
	assert.Equal(t, 1, q.dropped)
}

func TestBootQueue_DrainDropsStaleEntries(t *testing.T) {
	q := newBootQueue(10)
	maxAge := 30 * time.Second

	// Timestamped 31s before the drain: past the staleness bound.
	q.push(signal.Signal{Kind: signal.KindEnter, FenceID: "stale", At: bootEpoch.Add(-31 * time.Second)}, bootEpoch)
	q.push(signal.Signal{Kind: signal.KindEnter, FenceID: "fresh", At: bootEpoch.Add(-5 * time.Second)}, bootEpoch)

	survivors, stale := q.drain(bootEpoch, maxAge)
	assert.Equal(t, 1, stale)
	require.Len(t, survivors, 1)
	assert.Equal(t, "fresh", survivors[0].sig.FenceID)
	assert.Equal(t, 0, q.len(), "drain empties the queue")
}

func TestBootQueue_DrainFallsBackToEnqueueTime(t *testing.T) {
	q := newBootQueue(10)

	// No signal timestamp: age from enqueue time.
	q.push(signal.Signal{Kind: signal.KindExit, FenceID: "untimed"}, bootEpoch.Add(-time.Minute))

	survivors, stale := q.drain(bootEpoch, 30*time.Second)
	assert.Empty(t, survivors)
	assert.Equal(t, 1, stale)
}

func TestBootQueue_DrainPreservesOrder(t *testing.T) {
	q := newBootQueue(10)
	for i := 0; i < 4; i++ {
		q.push(signal.Signal{Kind: signal.KindEnter, FenceID: fmt.Sprintf("f%d", i), At: bootEpoch}, bootEpoch)
	}

	survivors, stale := q.drain(bootEpoch, time.Minute)
	require.Zero(t, stale)
	require.Len(t, survivors, 4)
	for i, s := range survivors {
		assert.Equal(t, fmt.Sprintf("f%d", i), s.sig.FenceID)
	}
}

func TestSkippedSet_RollsOverAtMidnight(t *testing.T) {
	var s skippedSet
	s.reset()

	s.add(bootEpoch, "site-a")
	assert.True(t, s.contains(bootEpoch, "site-a"))
	assert.False(t, s.contains(bootEpoch, "site-b"))

	// Same day, later hour: still skipped.
	assert.True(t, s.contains(bootEpoch.Add(10*time.Hour), "site-a"))

	// Next calendar day: cleared.
	assert.False(t, s.contains(bootEpoch.Add(24*time.Hour), "site-a"))
}

func TestSkippedSet_Reset(t *testing.T) {
	var s skippedSet
	s.reset()
	s.add(bootEpoch, "site-a")

	s.reset()
	assert.False(t, s.contains(bootEpoch, "site-a"))
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("tok")
	assert.Equal(t, "tok-1", g.Generate())
	assert.Equal(t, "tok-2", g.Generate())
}

func TestUUIDGenerator_Unique(t *testing.T) {
	g := UUIDGenerator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
