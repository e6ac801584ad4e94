package engine

import (
	"sync/atomic"
	"time"
)

// Timer is a single-shot timer handle owned by the state that armed it.
// Stop is idempotent: stopping an already-fired or already-stopped timer is
// a no-op, never an error.
type Timer interface {
	// Stop cancels the timer. Returns true if the call prevented the
	// timer from firing.
	Stop() bool
}

// Clock abstracts wall time and timer scheduling so deadlines can be driven
// deterministically in tests.
//
// Timer callbacks must be cheap and non-blocking; engine timers only enqueue
// an event for the run loop.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemClock returns the real-time clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return &systemTimer{t: time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (st *systemTimer) Stop() bool {
	if st.stopped.Swap(true) {
		return false
	}
	return st.t.Stop()
}
