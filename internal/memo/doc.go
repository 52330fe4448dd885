// Package memo implements per-operation trace memoization.
//
// Every operation issued inside a traced region passes through a small state
// machine that decides, at the moment dependence analysis starts, whether the
// operation records into the trace's template, replays a finished template,
// or runs without memoization at all.
//
// STATE MACHINE:
//
//	NO_MEMO ──RequestMemoize(true)──▶ MEMO_REQ ──EnterAnalysis──▶ RECORD
//	                                                   └────────▶ REPLAY
//
// RECORD and REPLAY are terminal for the operation. The record/replay choice
// is made lazily in EnterAnalysis so the template's readiness (which depends
// on other operations of the same trace) decides each operation's fate.
//
// CONCURRENCY:
//
// Memoizable performs no locking. The analysis pipeline serialises all calls
// for a single operation. Template stores shared across operations of one
// trace must make lookup-or-create atomic; this package relies on that.
//
// ERRORS:
//
//   - MemoError: a scheduling policy asked to memoize an untraced operation.
//     Returned to the caller, state untouched.
//   - InvariantError: a caller broke a precondition (EnterAnalysis twice,
//     RequestMemoize after a decision, MEMO_REQ without a trace). Raised with
//     panic in every build.
//   - Kill switches downgrading a request are not errors.
package memo
