package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Steps    []StepRecord // Full step log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for i, s := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describeStep(s))
		}
	}
	return buf.String()
}

func describeStep(s StepRecord) string {
	switch s.Kind {
	case "op":
		desc := fmt.Sprintf("op %s#%d %s trace=%q local=%s state=%s", s.OpID, s.Generation, s.OpKind, s.Trace, s.LocalID, s.State)
		if s.ErrorCode != "" {
			desc += " error=" + s.ErrorCode
		}
		return desc
	case "begin":
		return fmt.Sprintf("begin %s epoch=%d", s.Trace, s.Epoch)
	default:
		return fmt.Sprintf("%s %s epoch=%d outcome=%s ops=%d", s.Kind, s.Trace, s.Epoch, s.Outcome, s.Ops)
	}
}

// AssertionContext provides store access for assertions that read the
// durable records.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertState:
			err = assertOpField(result, assertion, "state", func(s StepRecord) string { return s.State })
		case AssertError:
			err = assertOpField(result, assertion, "error", func(s StepRecord) string { return s.ErrorCode })
		case AssertLocalID:
			err = assertOpField(result, assertion, "local_id", func(s StepRecord) string { return s.LocalID })
		case AssertCalls:
			err = assertCalls(result, assertion)
		case AssertOutcome:
			err = assertOutcome(result, assertion)
		case AssertTemplate:
			err = assertTemplate(result, assertion)
		case AssertStats:
			err = assertStats(result.Stats, assertion)
		case AssertPhysicalOnly:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: physical_only requires database context", i)
			} else {
				err = assertPhysicalOnly(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func opLabel(a Assertion) string {
	if a.Generation == 0 {
		return a.Op
	}
	return fmt.Sprintf("%s#%d", a.Op, a.Generation)
}

func assertOpField(result *Result, a Assertion, typ string, get func(StepRecord) string) error {
	rec, ok := result.LastOp(a.Op, a.Generation)
	if !ok {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("operation %s", opLabel(a)),
			Actual:   "operation not found",
			Steps:    result.Steps,
		}
	}
	if got := get(rec); got != a.Expect {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%s of %s = %q", typ, opLabel(a), a.Expect),
			Actual:   fmt.Sprintf("%q", got),
			Steps:    result.Steps,
		}
	}
	return nil
}

// assertCalls checks the exact hook sequence an operation received.
func assertCalls(result *Result, a Assertion) error {
	rec, ok := result.LastOp(a.Op, a.Generation)
	if !ok {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("operation %s", opLabel(a)),
			Actual:   "operation not found",
			Steps:    result.Steps,
		}
	}
	if !slices.Equal(rec.Calls, a.Calls) {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("calls of %s = %v", opLabel(a), a.Calls),
			Actual:   fmt.Sprintf("%v", rec.Calls),
			Steps:    result.Steps,
		}
	}
	return nil
}

func assertOutcome(result *Result, a Assertion) error {
	rec, ok := result.Epoch(a.Trace, a.Epoch)
	if !ok {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("closed epoch %d of trace %s", a.Epoch, a.Trace),
			Actual:   "epoch not closed",
			Steps:    result.Steps,
		}
	}
	if rec.Outcome != a.Expect {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("epoch %d of %s %s", a.Epoch, a.Trace, a.Expect),
			Actual:   rec.Outcome,
			Steps:    result.Steps,
		}
	}
	return nil
}

// assertTemplate checks the mode of the trace's newest template.
func assertTemplate(result *Result, a Assertion) error {
	var newest *store.TemplateRecord
	for i := range result.Templates {
		if result.Templates[i].Trace == a.Trace {
			newest = &result.Templates[i]
		}
	}
	if newest == nil {
		if a.Expect == "none" {
			return nil
		}
		return &AssertionError{
			Type:     AssertTemplate,
			Expected: fmt.Sprintf("template of %s in mode %s", a.Trace, a.Expect),
			Actual:   "no template",
		}
	}
	if got := newest.Mode.String(); got != a.Expect {
		return &AssertionError{
			Type:     AssertTemplate,
			Expected: fmt.Sprintf("template %s of %s in mode %s", newest.ID, a.Trace, a.Expect),
			Actual:   got,
		}
	}
	return nil
}

// assertStats checks the named counters (subset match).
func assertStats(stats pipeline.StatsSnapshot, a Assertion) error {
	actual := statsMap(stats)

	names := make([]string, 0, len(a.Stats))
	for name := range a.Stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		got, ok := actual[name]
		if !ok {
			return fmt.Errorf("stats assertion: unknown counter %q", name)
		}
		if got != a.Stats[name] {
			return &AssertionError{
				Type:     AssertStats,
				Expected: fmt.Sprintf("%s = %d", name, a.Stats[name]),
				Actual:   fmt.Sprintf("%d", got),
			}
		}
	}
	return nil
}

func assertPhysicalOnly(ctx context.Context, st *store.Store, a Assertion) error {
	records, err := st.ReadPhysicalOnly(ctx, a.Trace)
	if err != nil {
		return fmt.Errorf("physical_only assertion: %w", err)
	}
	if len(records) != a.Count {
		return &AssertionError{
			Type:     AssertPhysicalOnly,
			Expected: fmt.Sprintf("%d physical-only registrations in %s", a.Count, a.Trace),
			Actual:   fmt.Sprintf("%d", len(records)),
		}
	}
	return nil
}

func statsMap(s pipeline.StatsSnapshot) map[string]int64 {
	return map[string]int64{
		"recorded":   s.Recorded,
		"replayed":   s.Replayed,
		"unmemoized": s.Unmemoized,
		"rejected":   s.Rejected,
		"failed":     s.Failed,
		"epochs":     s.Epochs,
		"diverged":   s.Diverged,
	}
}
