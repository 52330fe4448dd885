// Package store provides SQLite-backed durable storage for trace templates
// and per-operation memoization decisions.
//
// Tables:
//   - templates: one row per template with its lifecycle mode and the
//     fingerprint recorded when it finished
//   - decisions: the memoization outcome of every analysed operation
//   - physical_only: operations registered physical-only during replay
//
// # Critical Patterns
//
// At most one current template per trace:
//   - partial UNIQUE index on templates(trace) for modes recording/replaying
//   - lookup-or-create runs in a single transaction on the single writer
//     connection
//
// Logical time only:
//   - ordering uses seq INTEGER, never timestamps
//   - all reads ORDER BY seq ASC, id ASC
//
// Idempotent writes:
//   - decisions are unique per (op_id, generation); rewrites are ignored
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
