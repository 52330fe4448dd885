package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase runs the ab scenario into a fresh database.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "seed.db")
	_, err := execute(t, "run", "--scenario", writeFile(t, dir, "ab.yaml", abScenario), "--db", dbPath)
	require.NoError(t, err)
	return dbPath
}

func TestDecisionsCommand_Text(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := execute(t, "decisions", "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, "=== Decisions ===")
	assert.Contains(t, out, "a#1 task trace=main epoch=1 local=0 RECORD")
	assert.Contains(t, out, "b#2 copy trace=main epoch=2 local=1 REPLAY")
	assert.Contains(t, out, "Recorded:   2")
	assert.Contains(t, out, "Replayed:   2")
	assert.NotContains(t, out, "policy=", "policy is shown only in verbose mode")
}

func TestDecisionsCommand_Verbose(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := execute(t, "decisions", "--db", dbPath, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "policy=traced")
}

func TestDecisionsCommand_JSON(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := execute(t, "--format", "json", "decisions", "--db", dbPath, "--trace", "main")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   DecisionsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "main", resp.Data.Trace)
	require.Len(t, resp.Data.Decisions, 4)
	assert.Equal(t, "a", resp.Data.Decisions[0].OperationID)
	assert.Equal(t, DecisionStats{Total: 4, Recorded: 2, Replayed: 2}, resp.Data.Stats)
}

func TestDecisionsCommand_UnknownTrace(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := execute(t, "decisions", "--db", dbPath, "--trace", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "No decisions found for trace: other")
}

func TestDecisionsCommand_UntracedAndRejected(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	scenario := writeFile(t, dir, "mixed.yaml", `name: mixed
description: An untraced operation and a rejected request.
steps:
  - op: {id: u, kind: fill}
  - op: {id: r, kind: task, policy: always}
assertions:
  - type: error
    op: r
    expect: REJECTED
`)
	_, err := execute(t, "run", "--scenario", scenario, "--db", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "decisions", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "u#1 fill trace=- ")
	assert.Contains(t, out, "error: ")
	assert.Contains(t, out, "Unmemoized: 1")
	assert.Contains(t, out, "Errors:     1")
}

func TestDecisionsCommand_MissingDatabase(t *testing.T) {
	_, err := execute(t, "decisions", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestDecisionsCommand_DatabaseFromEnvironment(t *testing.T) {
	dbPath := seedDatabase(t)
	t.Setenv("MEMOTRACE_DB", dbPath)

	out, err := execute(t, "decisions")
	require.NoError(t, err)
	assert.Contains(t, out, "=== Decisions ===")
}
