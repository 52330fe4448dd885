// Package pipeline drives operations through trace memoization.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// The pipeline processes every event in one goroutine. Per-operation
// memoization state is never shared, and trace epochs change only between
// operations, so no analysis races an epoch boundary.
//
// Event Processing Flow:
// 1. Events enqueued to a FIFO queue (epoch begin/end/abort, operations)
// 2. Pipeline.Run() dequeues events one at a time
// 3. processEvent() routes to the appropriate handler
// 4. Operations: register in the trace, consult the scheduling policy,
// enter analysis (record, replay or plain)
// 5. The decision is written to the decision log (single writer)
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every persisted decision is stamped with a monotonic seq from Clock.Next().
// Wall-clock time never orders anything.
//
// Log and Continue:
// A failing operation is logged with full context and the loop moves on.
// Invariant violations are not errors; they panic.
package pipeline
