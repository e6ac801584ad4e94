// Package store provides SQLite-backed durable storage for the geofence
// session engine.
//
// Tables:
//   - sessions: work sessions (entry/exit, minute adjustment, source kind)
//   - fences: geofence definitions (the authoritative registry)
//   - identity: background user id surviving process restarts
//   - audit_log: engine corrections and drops, ULID-keyed
//
// # Critical Patterns
//
//   - One open session per user, enforced twice: the engine re-checks
//     before every open, and a partial UNIQUE index on
//     sessions(user_id) WHERE exit_time IS NULL makes a racing open fail
//     loudly instead of persisting a double-charge.
//   - CloseSession backdates by the minute adjustment but clamps at the
//     entry time; a session can shrink to zero, never go negative.
//   - Fence writes validate the radius bounds and refuse circles that
//     intersect an existing active fence.
//   - All timestamps are unix milliseconds UTC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
