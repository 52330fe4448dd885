package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/policy"
	"github.com/roach88/memotrace/internal/testutil"
	"github.com/roach88/memotrace/internal/tracing"
)

func op(id, kind, trace string) Step {
	return Step{Op: &OpStep{ID: id, Kind: kind, Trace: trace}}
}

func recordReplayScenario() *Scenario {
	return &Scenario{
		Name:        "ab",
		Description: "record then replay",
		Steps: []Step{
			{Begin: "main"},
			op("a", "task", "main"),
			op("b", "copy", "main"),
			{End: "main"},
			{Begin: "main"},
			op("a", "task", "main"),
			op("b", "copy", "main"),
			{End: "main"},
		},
		Assertions: []Assertion{
			{Type: AssertState, Op: "a", Generation: 1, Expect: "RECORD"},
			{Type: AssertState, Op: "a", Generation: 2, Expect: "REPLAY"},
		},
	}
}

func TestRun_RecordThenReplay(t *testing.T) {
	result, err := Run(recordReplayScenario())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Steps, 8)
	first, second := result.Steps[1], result.Steps[5]
	assert.Equal(t, uint64(1), first.Generation)
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, first.LocalID, second.LocalID)
	assert.Equal(t, first.TemplateID, second.TemplateID)
	assert.Equal(t, "tpl-1", first.TemplateID)

	assert.Equal(t, int64(2), result.Stats.Recorded)
	assert.Equal(t, int64(2), result.Stats.Replayed)
	require.Len(t, result.Templates, 1)
	assert.Equal(t, tracing.ModeReady, result.Templates[0].Mode)
	assert.Len(t, result.PhysicalOnly, 2)
}

func TestRun_FailingAssertionMarksResult(t *testing.T) {
	s := recordReplayScenario()
	s.Assertions = []Assertion{{Type: AssertState, Op: "a", Generation: 2, Expect: "RECORD"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: state")
	assert.Contains(t, result.Errors[0], `"REPLAY"`)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(recordReplayScenario())
	require.NoError(t, err)
	second, err := Run(recordReplayScenario())
	require.NoError(t, err)

	a, err := Snapshot("ab", first)
	require.NoError(t, err)
	b, err := Snapshot("ab", second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ExplicitGeneration(t *testing.T) {
	s := &Scenario{
		Name:        "gen",
		Description: "explicit generations",
		Steps: []Step{
			{Op: &OpStep{ID: "a", Kind: "task", Generation: 7}},
			op("a", "task", ""),
		},
		Assertions: []Assertion{{Type: AssertStats, Stats: map[string]int64{"unmemoized": 2}}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, uint64(7), result.Steps[0].Generation)
	assert.Equal(t, uint64(8), result.Steps[1].Generation)
}

func TestRun_StepErrorsAreRecorded(t *testing.T) {
	s := &Scenario{
		Name:        "errors",
		Description: "pipeline errors become step error codes",
		Steps: []Step{
			{End: "main"},
			op("a", "task", "main"),
			{Begin: "main"},
			{Op: &OpStep{ID: "b", Kind: "task", Trace: "main", Fail: "boom"}},
			{Op: &OpStep{ID: "c", Kind: "task", Trace: "main", Policy: "missing"}},
			{End: "main"},
		},
		Assertions: []Assertion{
			{Type: AssertError, Op: "a", Expect: "BAD_OPERATION"},
			{Type: AssertError, Op: "b", Expect: "ANALYSIS_FAILED"},
			{Type: AssertState, Op: "b", Expect: "RECORD"},
			{Type: AssertError, Op: "c", Expect: "POLICY_FAILED"},
			{Type: AssertStats, Stats: map[string]int64{"failed": 3}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "EPOCH", result.Steps[0].ErrorCode)
	assert.Empty(t, result.Steps[0].Outcome)
}

func TestRunWithOptions_KillSwitchFromOptions(t *testing.T) {
	s := recordReplayScenario()
	s.Assertions = []Assertion{{Type: AssertStats, Stats: map[string]int64{"recorded": 0, "unmemoized": 4}}}

	result, err := RunWithOptions(context.Background(), s, Options{
		Config: memo.Config{PhysicalTracingDisabled: true},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Templates)
}

func TestRunWithOptions_StoreClockAndIDs(t *testing.T) {
	st := openTestStore(t)
	clock := testutil.NewDeterministicClock()

	result, err := RunWithOptions(context.Background(), recordReplayScenario(), Options{
		Store: st,
		Clock: clock,
		IDs:   tracing.NewFixedGenerator("run"),
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "run-1", result.Steps[1].TemplateID)
	assert.Equal(t, int64(6), clock.Current())

	decisions, err := st.ReadDecisions(context.Background(), "main")
	require.NoError(t, err)
	assert.Len(t, decisions, 4)
}

func TestRunWithOptions_Policies(t *testing.T) {
	s := &Scenario{
		Name:        "rules",
		Description: "extra rules",
		Steps: []Step{
			{Begin: "main"},
			{Op: &OpStep{ID: "a", Kind: "task", Trace: "main", Policy: "fills"}},
			{Op: &OpStep{ID: "b", Kind: "fill", Trace: "main", Policy: "fills"}},
			{End: "main"},
		},
		Assertions: []Assertion{
			{Type: AssertState, Op: "a", Expect: "NO_MEMO"},
			{Type: AssertState, Op: "b", Expect: "RECORD"},
		},
	}

	result, err := RunWithOptions(context.Background(), s, Options{
		Policies: []policy.Rule{{ID: "fills", Traced: true, Kinds: []string{"fill"}}},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BadPoliciesFile(t *testing.T) {
	s := recordReplayScenario()
	s.Policies = "/nonexistent/rules.cue"

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load policies")
}

func TestRun_Testdata(t *testing.T) {
	paths := []string{
		"testdata/scenarios/record_replay.yaml",
		"testdata/scenarios/kill_switch.yaml",
		"testdata/scenarios/untraced_rejected.yaml",
		"testdata/scenarios/divergence.yaml",
		"testdata/scenarios/abort.yaml",
		"testdata/scenarios/index_points.yaml",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithOptions_ResumesGenerationsFromStore(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, err := RunWithOptions(ctx, recordReplayScenario(), Options{Store: st})
	require.NoError(t, err)
	assert.True(t, first.Pass, "errors: %v", first.Errors)

	s := recordReplayScenario()
	s.Assertions = []Assertion{
		{Type: AssertState, Op: "a", Generation: 3, Expect: "REPLAY"},
		{Type: AssertState, Op: "a", Generation: 4, Expect: "REPLAY"},
	}
	second, err := RunWithOptions(ctx, s, Options{Store: st, Clock: pipeline.NewClockAt(6), IDs: tracing.NewFixedGenerator("again")})
	require.NoError(t, err)
	assert.True(t, second.Pass, "errors: %v", second.Errors)
	assert.Equal(t, int64(7), second.Steps[1].Seq)

	decisions, err := st.ReadDecisions(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, decisions, 8)
}

func TestRunWithOptions_AbortsUnfinishedEpochs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	unfinished := &Scenario{
		Name:        "unfinished",
		Description: "begins an epoch and never ends it",
		Steps: []Step{
			{Begin: "main"},
			op("a", "task", "main"),
		},
		Assertions: []Assertion{
			{Type: AssertState, Op: "a", Generation: 1, Expect: "RECORD"},
		},
	}
	first, err := RunWithOptions(ctx, unfinished, Options{Store: st})
	require.NoError(t, err)
	assert.True(t, first.Pass, "errors: %v", first.Errors)
	require.Len(t, first.Templates, 1)
	assert.Equal(t, tracing.ModeRecording, first.Templates[0].Mode)

	templates, err := st.ReadTemplates(ctx, "main")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, tracing.ModeInvalid, templates[0].Mode)

	s := recordReplayScenario()
	s.Assertions = []Assertion{
		{Type: AssertState, Op: "a", Generation: 2, Expect: "RECORD"},
		{Type: AssertState, Op: "a", Generation: 3, Expect: "REPLAY"},
	}
	second, err := RunWithOptions(ctx, s, Options{Store: st, Clock: pipeline.NewClockAt(1), IDs: tracing.NewFixedGenerator("again")})
	require.NoError(t, err)
	assert.True(t, second.Pass, "errors: %v", second.Errors)
	for _, step := range second.Steps {
		assert.Empty(t, step.ErrorCode, "step %+v", step)
	}
	assert.Equal(t, "again-1", second.Steps[1].TemplateID)
}
