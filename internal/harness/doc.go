// Package harness runs memoization scenarios end to end.
//
// A scenario is a YAML file listing trace epochs and the operations submitted
// inside them. The harness feeds the steps through a pipeline backed by a
// fresh SQLite store, then checks the scenario's assertions against what
// happened: per-operation memoization states, analysis hooks, epoch
// outcomes, template modes and counters.
//
// # Determinism
//
// The harness uses:
//   - Sequential template ids (tpl-1, tpl-2, ...)
//   - Deterministic logical clock (testutil.DeterministicClock)
//   - In-memory SQLite database (isolated per run)
//
// This ensures identical snapshots across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/record_replay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
