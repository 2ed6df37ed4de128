// Package store provides the SQLite-backed transition journal of a knot.
//
// The journal is an append-only record of every published state:
//   - Knots: one row per engine instance (ID, name, engine version)
//   - Transitions: one row per publication, including the initial state
//
// The engine writes to the journal through engine.Recorder and never reads
// it back; the journal exists for inspection (knot trace) and for the
// scenario harness.
//
// # Critical Patterns
//
// Logical Time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - UNIQUE(knot_id, seq): one transition per publication
//
// Idempotent Writes:
//   - Transition IDs are content-addressed (internal/ir/hash.go)
//   - Writing the same transition twice is a no-op
//
// Deterministic Reads:
//   - All queries include ORDER BY seq ASC or id COLLATE BINARY ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
