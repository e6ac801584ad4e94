package engine

import (
	"time"

	"github.com/geoshift/geoshift/internal/signal"
)

// queuedSignal is a filtered signal parked while the boot gate is closed.
type queuedSignal struct {
	sig        signal.Signal
	enqueuedAt time.Time
}

// bootQueue is the bounded FIFO holding signals that arrive before the rest
// of the system (stores, user identity) is ready.
//
// During cold start, background OS callbacks can fire before in-memory
// state is populated. Dropping them silently would lose real transitions;
// blocking boot for their timing is unacceptable. So: queue, then replay
// with a staleness bound. When full, the oldest entry is evicted.
type bootQueue struct {
	capacity int
	items    []queuedSignal
	dropped  int // evicted or discarded as stale, for status reporting
}

func newBootQueue(capacity int) *bootQueue {
	if capacity <= 0 {
		capacity = 10
	}
	return &bootQueue{capacity: capacity}
}

// push appends a signal, evicting the oldest entry when full.
// Returns the evicted signal, if any.
func (q *bootQueue) push(sig signal.Signal, now time.Time) (evicted *queuedSignal) {
	if len(q.items) >= q.capacity {
		old := q.items[0]
		q.items = q.items[1:]
		q.dropped++
		evicted = &old
	}
	q.items = append(q.items, queuedSignal{sig: sig, enqueuedAt: now})
	return evicted
}

// drain empties the queue, splitting entries into survivors and stale
// drops. A stale entry is one whose signal timestamp (falling back to its
// enqueue time) is older than maxAge; the transition no longer reflects
// reality and replaying it would act on stale state.
func (q *bootQueue) drain(now time.Time, maxAge time.Duration) (survivors []queuedSignal, stale int) {
	for _, item := range q.items {
		at := item.sig.At
		if at.IsZero() {
			at = item.enqueuedAt
		}
		if now.Sub(at) > maxAge {
			stale++
			continue
		}
		survivors = append(survivors, item)
	}
	q.dropped += stale
	q.items = nil
	return survivors, stale
}

func (q *bootQueue) len() int { return len(q.items) }
