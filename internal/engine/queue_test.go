package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoshift/geoshift/internal/signal"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"a", "b", "c"} {
		ok := q.Enqueue(event{kind: eventSignal, sig: signal.Signal{FenceID: id}})
		require.True(t, ok)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.sig.FenceID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "queue should be empty")
}

func TestEventQueue_EnqueueAfterCloseRefused(t *testing.T) {
	q := newEventQueue()
	q.Close()

	assert.False(t, q.Enqueue(event{kind: eventBootReady}))
}

func TestEventQueue_CloseIdempotent(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close() // must not panic on double close
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(event{kind: eventHeartbeat})
	q.Enqueue(event{kind: eventHeartbeat})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_StaleWakeupIsNotDrained(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(event{kind: eventBootReady})
	_, ok := q.TryDequeue()
	require.True(t, ok)

	// The wakeup token from Enqueue is still pending even though the
	// queue is empty; an open queue must never report drained.
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected the enqueue wakeup token to still be pending")
	}
	assert.False(t, q.Drained())

	q.Close()
	assert.True(t, q.Drained())
}

func TestEventQueue_DrainedWaitsForLeftovers(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(event{kind: eventHeartbeat})
	q.Close()
	assert.False(t, q.Drained(), "closed queue with events left is not drained")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Drained())
}

func TestEventQueue_WaitSignalled(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(event{kind: eventBootReady})
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected wakeup signal after enqueue")
	}
}
