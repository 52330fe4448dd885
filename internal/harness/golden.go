package harness

import "github.com/roach88/memotrace/internal/canonical"

// Snapshot renders a result as canonical JSON: the scenario name, every
// step, the final templates and the counters. Template ids and seqs are
// deterministic under Run, so snapshots are stable across runs.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		steps[i] = stepMap(s)
	}

	templates := make([]any, len(result.Templates))
	for i, t := range result.Templates {
		templates[i] = map[string]any{
			"id":    t.ID,
			"trace": t.Trace,
			"mode":  t.Mode.String(),
			"ops":   t.Fingerprint.Ops,
		}
	}

	stats := make(map[string]any)
	for k, v := range statsMap(result.Stats) {
		stats[k] = v
	}

	return canonical.Marshal(map[string]any{
		"scenario":  name,
		"steps":     steps,
		"templates": templates,
		"stats":     stats,
	})
}

func stepMap(s StepRecord) map[string]any {
	m := map[string]any{}
	switch s.Kind {
	case "op":
		m["op"] = s.OpID
		m["generation"] = s.Generation
		m["kind"] = s.OpKind
		if s.Trace != "" {
			m["trace"] = s.Trace
		}
		m["local_id"] = s.LocalID
		m["state"] = s.State
		if s.TemplateID != "" {
			m["template"] = s.TemplateID
		}
		calls := s.Calls
		if calls == nil {
			calls = []string{}
		}
		m["calls"] = calls
		m["seq"] = s.Seq
	default:
		m[s.Kind] = s.Trace
		m["epoch"] = s.Epoch
		if s.Kind != "begin" && s.ErrorCode == "" {
			m["outcome"] = s.Outcome
			m["ops"] = s.Ops
		}
	}
	if s.ErrorCode != "" {
		m["error"] = s.ErrorCode
	}
	return m
}
