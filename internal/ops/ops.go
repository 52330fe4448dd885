// Package ops provides the concrete operation kinds analysed by the
// pipeline. Each kind implements memo.Analyzer and keeps a log of the hooks
// the memoization state machine invoked, which is what scenarios assert on.
package ops

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/memotrace/internal/memo"
)

// Kind names an operation kind.
type Kind string

const (
	KindTask      Kind = "task"
	KindCopy      Kind = "copy"
	KindFill      Kind = "fill"
	KindIndexTask Kind = "index_task"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindTask, KindCopy, KindFill, KindIndexTask}

// ErrUnknownKind is returned by Build for an unsupported kind.
var ErrUnknownKind = errors.New("unknown operation kind")

// Hook names an analyzer callback.
type Hook string

const (
	HookAnalysis Hook = "analysis"
	HookResolve  Hook = "resolve_speculation"
	HookReplay   Hook = "replay_analysis"
	// HookSettled marks speculation settled by normal analysis itself.
	HookSettled Hook = "speculation_settled"
)

// Operation is an analysable operation.
type Operation interface {
	memo.Analyzer

	Kind() Kind
	// Calls returns the hooks invoked so far, in order.
	Calls() []Hook
	// Speculative reports whether the operation carried a speculative
	// predicate.
	Speculative() bool
	// Resolved reports whether speculation has been settled. Always true
	// for non-speculative operations.
	Resolved() bool
}

// Spec describes an operation to build.
type Spec struct {
	Kind        Kind
	Point       []int64 // index_task only
	Speculative bool
	// Fail, when non-empty, makes whichever analysis hook runs return an
	// error with this message.
	Fail string
}

// Build creates an operation from spec.
func Build(spec Spec) (Operation, error) {
	b := base{kind: spec.Kind, speculative: spec.Speculative}
	if spec.Fail != "" {
		b.fail = errors.New(spec.Fail)
	}
	if spec.Kind != KindIndexTask && len(spec.Point) > 0 {
		return nil, fmt.Errorf("%s: point is only valid for %s", spec.Kind, KindIndexTask)
	}

	switch spec.Kind {
	case KindTask:
		return &Task{base: b}, nil
	case KindCopy:
		return &Copy{base: b}, nil
	case KindFill:
		return &Fill{base: b}, nil
	case KindIndexTask:
		return &IndexTask{base: b, point: memo.NewPoint(spec.Point...)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// base carries the behavior shared by every kind. Hooks run on the pipeline
// goroutine only, so the call log is unsynchronised.
type base struct {
	kind        Kind
	speculative bool
	resolved    bool
	fail        error
	calls       []Hook
}

func (b *base) Kind() Kind        { return b.kind }
func (b *base) Speculative() bool { return b.speculative }
func (b *base) Resolved() bool    { return !b.speculative || b.resolved }

func (b *base) Calls() []Hook {
	out := make([]Hook, len(b.calls))
	copy(out, b.calls)
	return out
}

// RunNormalAnalysis implements memo.Analyzer. Speculation resolves at the
// end of normal analysis.
func (b *base) RunNormalAnalysis(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.calls = append(b.calls, HookAnalysis)
	if b.fail != nil {
		return fmt.Errorf("%s analysis: %w", b.kind, b.fail)
	}
	if b.speculative && !b.resolved {
		b.resolved = true
		b.calls = append(b.calls, HookSettled)
	}
	return nil
}

// ResolveSpeculation implements memo.Analyzer.
func (b *base) ResolveSpeculation() {
	b.calls = append(b.calls, HookResolve)
	b.resolved = true
}

// RunReplayAnalysis implements memo.Analyzer.
func (b *base) RunReplayAnalysis(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.calls = append(b.calls, HookReplay)
	if b.fail != nil {
		return fmt.Errorf("%s replay analysis: %w", b.kind, b.fail)
	}
	return nil
}

// Task is a single-point task launch.
type Task struct{ base }

// Copy is a region-to-region copy.
type Copy struct{ base }

// Fill initialises a region with a value.
type Fill struct{ base }

// IndexTask is one point of an index-space launch.
type IndexTask struct {
	base
	point memo.Point
}

var _ memo.PointRefiner = (*IndexTask)(nil)

// TracePoint implements memo.PointRefiner.
func (t *IndexTask) TracePoint() memo.Point { return t.point }
