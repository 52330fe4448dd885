package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files are compact canonical JSON. To regenerate after an intended
// change:
//
//	go test ./internal/harness -run TestGolden -update
func TestGolden_Scenarios(t *testing.T) {
	names := []string{
		"record_replay",
		"kill_switch",
		"untraced_rejected",
		"divergence",
		"abort",
		"index_points",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := runWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestSnapshot_OmitsEmptyFields(t *testing.T) {
	result := NewResult()
	result.Steps = []StepRecord{
		{Kind: "op", OpID: "a", Generation: 1, OpKind: "task", LocalID: "0", State: "NO_MEMO", Seq: 1},
		{Kind: "begin", Trace: "main", Epoch: 1, ErrorCode: "EPOCH"},
	}

	data, err := Snapshot("s", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"s","stats":{"diverged":0,"epochs":0,"failed":0,"recorded":0,"rejected":0,"replayed":0,"unmemoized":0},`+
			`"steps":[{"calls":[],"generation":1,"kind":"task","local_id":"0","op":"a","seq":1,"state":"NO_MEMO"},`+
			`{"begin":"main","epoch":1,"error":"EPOCH"}],"templates":[]}`,
		string(data))
}

// runWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
func runWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := assertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// assertGolden compares a result against its golden file.
func assertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
