package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// abScenario records an epoch of two operations and replays it.
const abScenario = `name: ab
description: Records an epoch and replays it.
steps:
  - begin: main
  - op: {id: a, kind: task, trace: main}
  - op: {id: b, kind: copy, trace: main}
  - end: main
  - begin: main
  - op: {id: a, kind: task, trace: main}
  - op: {id: b, kind: copy, trace: main}
  - end: main
assertions:
  - type: outcome
    trace: main
    epoch: 1
    expect: recorded
  - type: outcome
    trace: main
    epoch: 2
    expect: replayed
`

// failingScenario asserts a state its operation never reaches.
const failingScenario = `name: failing
description: Expects a replay that never happens.
steps:
  - op: {id: u, kind: task}
assertions:
  - type: state
    op: u
    expect: REPLAY
`

const validPolicies = `policy: {
	"index-only": {
		traced: true
		kinds: ["index_task"]
	}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	return executeCommand(cmd, args...)
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
