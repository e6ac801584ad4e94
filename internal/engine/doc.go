// Package engine implements the geofence consistency and session state
// engine.
//
// The engine converts a filtered enter/exit signal stream into authoritative
// work-session records, surviving event sources that are duplicated, delayed,
// or silently dropped.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All state mutation happens in one goroutine. Signals, timer expiries, user
// decisions and heartbeat ticks are enqueued as events and processed in FIFO
// order, each to completion before the next. This gives:
//   - No races between native callbacks and polling-derived signals
//   - Timer cancellation that is synchronous with state transitions
//   - Simple reasoning about the single-open-session invariant
//
// Event Processing Flow:
//  1. Raw signal passes the ingestion guard and is enqueued
//  2. The loop filters it (dedup, reconfigure window, exit hysteresis)
//  3. Pre-boot signals are parked in the bounded boot queue
//  4. Live signals drive the pending-action state machine
//  5. A decision or deadline expiry commits a session mutation to the store
//
// The heartbeat reconciler runs on the same loop (via heartbeat events) and
// independently corrects drift between measured position and committed
// session state.
//
// INVARIANTS:
//   - At most one pending action (enter/exit/return) exists at a time; a new
//     arrival cancels and replaces the prior one, clearing its timer first.
//   - At most one session is open per user; the engine enforces this before
//     the store sees any mutation.
//   - A cancelled timer never fires an auto-action: timer events carry cycle
//     tokens and stale tokens are discarded.
//   - On ambiguity the engine prefers ending an uncertain session over
//     leaving one open, and prefers not opening a session over opening one
//     at the wrong fence.
package engine
