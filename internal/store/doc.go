// Package store provides SQLite-backed persistence for flow state and
// lifecycle events.
//
// The store keeps two tables:
//   - flow_states: the latest snapshot of each flow instance, keyed by state id
//   - flow_events: an append-only log of every lifecycle event
//
// It implements the engine's Loader and the persist package's Saver and
// EventLog, so one Store can both restore and record a flow.
//
// # Critical Patterns
//
// Logical ordering only: event order is the bus seq plus the insertion
// rowid, NEVER a timestamp. Every query includes an ORDER BY so results are
// identical across reads.
//
// Canonical snapshots: snapshots and results are stored as canonical JSON
// (sorted keys, NFC strings), so equal states produce identical rows.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
