// Package tracing provides the trace and template-store collaborators used by
// the memoization state machine.
//
// A Trace is a named, repeatable region of the operation stream. Each pass
// through the region is an epoch:
//
//	BeginEpoch ─▶ Register ops ─▶ (memo.EnterAnalysis per op) ─▶ EndEpoch
//
// The first epoch with memoized operations records a template. EndEpoch
// finalises it together with a fingerprint of the operation kinds seen.
// The next BeginEpoch activates the finished template in replay mode; if the
// replayed epoch's fingerprint diverges, the template is invalidated and the
// following epoch records again.
//
// The template store is pluggable (Backend). Templates here is the in-memory
// implementation; internal/store provides a SQLite-backed one.
package tracing
