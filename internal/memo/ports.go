package memo

import "context"

// Analyzer is the per-kind capability a concrete operation supplies.
//
// The state machine composes an Analyzer; it never embeds one. Exactly one of
// RunNormalAnalysis or RunReplayAnalysis is invoked per operation.
type Analyzer interface {
	// RunNormalAnalysis performs full dependence analysis. Recording the
	// resulting graph into a live template is the analyzer's (or the
	// template store's) concern.
	RunNormalAnalysis(ctx context.Context) error

	// ResolveSpeculation settles any pending speculative execution. Replay
	// calls it eagerly because it bypasses the point where speculation
	// would otherwise resolve.
	ResolveSpeculation()

	// RunReplayAnalysis performs the reduced analysis used when the
	// dependence graph is supplied by a replayed template.
	RunReplayAnalysis(ctx context.Context) error
}

// OperationRef identifies an operation to a trace.
type OperationRef interface {
	ID() string
	Generation() uint64
}

// Trace is the enclosing traced region of an operation.
type Trace interface {
	// TemplateStore returns the trace's template store. Never nil for a
	// trace that accepts memoized operations.
	TemplateStore() TemplateStore

	// MarkRecordingStarted flags the trace as producing a recorded state.
	MarkRecordingStarted()

	IsReplaying() bool
	IsRecording() bool

	// RegisterPhysicalOnly registers op for physical bookkeeping only; its
	// logical dependence step comes from the replayed template.
	RegisterPhysicalOnly(op OperationRef, generation uint64)
}

// TemplateStore holds at most one current (in-construction or replaying)
// template for a trace. Implementations make lookup-or-create atomic: two
// concurrent StartNewTemplate calls must observe one template.
type TemplateStore interface {
	// CurrentTemplate returns the current template, or nil when none.
	CurrentTemplate() (Template, error)

	// StartNewTemplate starts a template and makes it current. If another
	// caller already did, the existing current template is returned.
	StartNewTemplate() (Template, error)
}

// Template is a recorded execution plan for one trace epoch.
type Template interface {
	ID() string
	IsReplaying() bool
}

// PolicyID names a registered scheduling policy.
type PolicyID string

// MemoizeInput is the fact handed to a scheduling policy.
type MemoizeInput struct {
	Traced bool
}

// MemoizeOutput is a scheduling policy's decision.
type MemoizeOutput struct {
	Memoize bool
}

// Policy answers whether an operation should be memoized. Implementations
// may block briefly; they are not retried.
type Policy interface {
	Memoize(ctx context.Context, in MemoizeInput) (MemoizeOutput, error)
}

// PolicyResolver finds a policy by id.
type PolicyResolver interface {
	Resolve(id PolicyID) (Policy, error)
}

// Config holds the process-wide kill switches. It is a value: callers build
// it once and hand it to every operation.
type Config struct {
	TracingDisabled         bool
	PhysicalTracingDisabled bool
}

// MemoizationAllowed reports whether memoize requests may be honored.
func (c Config) MemoizationAllowed() bool {
	return !c.TracingDisabled && !c.PhysicalTracingDisabled
}
