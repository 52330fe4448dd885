package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/store"
	"github.com/roach88/memotrace/internal/tracing"
)

// openTestStore opens a store in a temporary directory for the test.
func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleResult() *Result {
	r := NewResult()
	r.Steps = []StepRecord{
		{Kind: "begin", Trace: "main", Epoch: 1},
		{Kind: "op", Trace: "main", OpID: "a", Generation: 1, OpKind: "task", LocalID: "0", State: "RECORD", Calls: []string{"analysis"}},
		{Kind: "end", Trace: "main", Epoch: 1, Outcome: "recorded", Ops: 1},
		{Kind: "op", OpID: "a", Generation: 2, OpKind: "task", LocalID: "0", State: "NO_MEMO", ErrorCode: "REJECTED"},
	}
	r.Stats = pipeline.StatsSnapshot{Recorded: 1, Rejected: 1, Epochs: 1}
	r.Templates = []store.TemplateRecord{
		{ID: "tpl-1", Trace: "main", Mode: tracing.ModeInvalid},
		{ID: "tpl-2", Trace: "main", Mode: tracing.ModeReady},
	}
	return r
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"state of last generation", Assertion{Type: AssertState, Op: "a", Expect: "NO_MEMO"}, ""},
		{"state of generation", Assertion{Type: AssertState, Op: "a", Generation: 1, Expect: "RECORD"}, ""},
		{"state mismatch", Assertion{Type: AssertState, Op: "a", Generation: 1, Expect: "REPLAY"}, `state of a#1 = "REPLAY"`},
		{"unknown op", Assertion{Type: AssertState, Op: "z", Expect: "RECORD"}, "operation not found"},
		{"error code", Assertion{Type: AssertError, Op: "a", Expect: "REJECTED"}, ""},
		{"no error", Assertion{Type: AssertError, Op: "a", Generation: 1}, ""},
		{"local id", Assertion{Type: AssertLocalID, Op: "a", Generation: 1, Expect: "0"}, ""},
		{"calls", Assertion{Type: AssertCalls, Op: "a", Generation: 1, Calls: []string{"analysis"}}, ""},
		{"no calls", Assertion{Type: AssertCalls, Op: "a", Generation: 2}, ""},
		{"calls mismatch", Assertion{Type: AssertCalls, Op: "a", Generation: 1, Calls: []string{"replay_analysis"}}, "calls of a#1"},
		{"outcome", Assertion{Type: AssertOutcome, Trace: "main", Epoch: 1, Expect: "recorded"}, ""},
		{"outcome of open epoch", Assertion{Type: AssertOutcome, Trace: "main", Epoch: 2, Expect: "recorded"}, "epoch not closed"},
		{"newest template", Assertion{Type: AssertTemplate, Trace: "main", Expect: "ready"}, ""},
		{"template mismatch", Assertion{Type: AssertTemplate, Trace: "main", Expect: "invalid"}, "template tpl-2 of main"},
		{"no template", Assertion{Type: AssertTemplate, Trace: "other", Expect: "none"}, ""},
		{"missing template", Assertion{Type: AssertTemplate, Trace: "other", Expect: "ready"}, "no template"},
		{"stats subset", Assertion{Type: AssertStats, Stats: map[string]int64{"recorded": 1, "rejected": 1}}, ""},
		{"stats mismatch", Assertion{Type: AssertStats, Stats: map[string]int64{"replayed": 3}}, "replayed = 3"},
		{"unknown counter", Assertion{Type: AssertStats, Stats: map[string]int64{"bogus": 1}}, `unknown counter "bogus"`},
		{"unknown type", Assertion{Type: "bogus"}, `unknown assertion type "bogus"`},
	}

	result := sampleResult()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, []Assertion{tt.assertion}, nil)
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_PhysicalOnly(t *testing.T) {
	result := sampleResult()

	errs := EvaluateAssertions(result, []Assertion{{Type: AssertPhysicalOnly, Trace: "main"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")

	st := openTestStore(t)
	actx := &AssertionContext{Store: st, Ctx: context.Background()}
	assert.Empty(t, EvaluateAssertions(result, []Assertion{{Type: AssertPhysicalOnly, Trace: "main", Count: 0}}, actx))

	errs = EvaluateAssertions(result, []Assertion{{Type: AssertPhysicalOnly, Trace: "main", Count: 2}}, actx)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "2 physical-only registrations in main")
}

func TestAssertionError_ListsSteps(t *testing.T) {
	err := &AssertionError{
		Type:     AssertState,
		Expected: "x",
		Actual:   "y",
		Steps:    sampleResult().Steps,
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: state")
	assert.Contains(t, msg, "[1] begin main epoch=1")
	assert.Contains(t, msg, `[2] op a#1 task trace="main" local=0 state=RECORD`)
	assert.Contains(t, msg, "[3] end main epoch=1 outcome=recorded ops=1")
	assert.Contains(t, msg, "error=REJECTED")
}
