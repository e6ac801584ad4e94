package engine

import (
	"sync"

	"github.com/geoshift/geoshift/internal/signal"
)

// eventKind distinguishes the inputs the run loop processes.
type eventKind int

const (
	// eventSignal is a raw geofence signal. Boot-queue replays bypass
	// the event queue; handleBootReady dispatches them directly.
	eventSignal eventKind = iota + 1
	// eventTimer is a deadline expiry carrying a cycle token.
	eventTimer
	// eventDecision is an explicit user decision on the current prompt.
	eventDecision
	// eventHeartbeat requests an immediate reconcile pass.
	eventHeartbeat
	// eventBootReady opens the boot gate and drains the queue.
	eventBootReady
	// eventRefreshFences reloads the registry snapshot inside a
	// suppression window and schedules a reconcile at window close.
	eventRefreshFences
	// eventReschedule re-arms the heartbeat with the current interval.
	eventReschedule
	// eventReset closes the boot gate again (logout/testing only).
	eventReset
)

// timerPurpose identifies which deadline a timer event belongs to.
type timerPurpose int

const (
	timerPending timerPurpose = iota + 1
	timerPause
	timerAlarm
	timerReconcile
	timerHeartbeat
)

// event wraps every input to the run loop.
type event struct {
	kind eventKind

	// eventSignal
	sig signal.Signal

	// eventTimer
	purpose timerPurpose
	token   string

	// eventDecision
	decision Decision
}

// eventQueue is a thread-safe FIFO queue feeding the single-writer loop.
//
// The queue is unbounded: the bounded queue in this system is the boot
// queue, which has explicit eviction semantics. Thread-safety covers
// external enqueuing (HTTP handlers, timer callbacks) while the run loop
// dequeues. The signal channel enables context-aware waiting in Run.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered size 1; coalesces wakeups
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]

	// Nil the slot so the backing array does not retain the event's
	// strings under steady load.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue depth.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drained reports whether the queue is closed with no events left.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close marks the queue closed and wakes all waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
