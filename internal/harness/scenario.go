package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/memotrace/internal/ops"
)

// Scenario defines a memoization scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config sets the kill switches for the run.
	Config ConfigSpec `yaml:"config,omitempty"`

	// Policies is an optional CUE policy file, relative to the scenario
	// file. Its rules are registered next to the built-in policies.
	Policies string `yaml:"policies,omitempty"`

	// Steps are processed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// ConfigSpec mirrors memo.Config.
type ConfigSpec struct {
	NoTracing         bool `yaml:"no_tracing,omitempty"`
	NoPhysicalTracing bool `yaml:"no_physical_tracing,omitempty"`
}

// Step is exactly one of: begin, end or abort a trace epoch, or submit an
// operation.
type Step struct {
	Begin string  `yaml:"begin,omitempty"`
	End   string  `yaml:"end,omitempty"`
	Abort string  `yaml:"abort,omitempty"`
	Op    *OpStep `yaml:"op,omitempty"`
}

// OpStep submits one operation.
type OpStep struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`

	// Trace is the enclosing trace; empty means untraced.
	Trace string `yaml:"trace,omitempty"`

	// Policy names the scheduling policy. Defaults to "traced".
	Policy string `yaml:"policy,omitempty"`

	// Generation defaults to one more than the last generation used for
	// the same id.
	Generation uint64 `yaml:"generation,omitempty"`

	Point       []int64 `yaml:"point,omitempty"`
	Speculative bool    `yaml:"speculative,omitempty"`
	Fail        string  `yaml:"fail,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": memoization state of an operation
	// - "calls": analysis hooks an operation received, in order
	// - "error": error code of an operation ("" for success)
	// - "local_id": trace-local id of an operation
	// - "outcome": outcome of a trace epoch
	// - "template": mode of a trace's newest template
	// - "physical_only": number of physical-only registrations of a trace
	// - "stats": pipeline counters (subset match)
	Type string `yaml:"type"`

	// Op and Generation select an operation. A zero generation selects the
	// operation's last occurrence.
	Op         string `yaml:"op,omitempty"`
	Generation uint64 `yaml:"generation,omitempty"`

	// Trace and Epoch select a trace epoch.
	Trace string `yaml:"trace,omitempty"`
	Epoch uint64 `yaml:"epoch,omitempty"`

	// Expect is the expected value for state, error, local_id, outcome and
	// template assertions.
	Expect string `yaml:"expect,omitempty"`

	// Calls is the expected hook list (used by calls).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected count (used by physical_only).
	Count int `yaml:"count,omitempty"`

	// Stats are the expected counters (used by stats).
	Stats map[string]int64 `yaml:"stats,omitempty"`
}

// Assertion type constants.
const (
	AssertState        = "state"
	AssertCalls        = "calls"
	AssertError        = "error"
	AssertLocalID      = "local_id"
	AssertOutcome      = "outcome"
	AssertTemplate     = "template"
	AssertPhysicalOnly = "physical_only"
	AssertStats        = "stats"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// A relative policies path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Policies != "" && !filepath.IsAbs(scenario.Policies) {
		scenario.Policies = filepath.Join(filepath.Dir(path), scenario.Policies)
	}
	if scenario.Policies != "" {
		if _, err := os.Stat(scenario.Policies); err != nil {
			return nil, fmt.Errorf("invalid scenario: policies file not found: %s", scenario.Policies)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	for _, v := range []string{step.Begin, step.End, step.Abort} {
		if v != "" {
			set++
		}
	}
	if step.Op != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of begin, end, abort or op is required", index)
	}
	if step.Op == nil {
		return nil
	}

	if step.Op.ID == "" {
		return fmt.Errorf("steps[%d].op: id is required", index)
	}
	if step.Op.Kind == "" {
		return fmt.Errorf("steps[%d].op: kind is required", index)
	}
	if _, err := ops.ParseKind(step.Op.Kind); err != nil {
		return fmt.Errorf("steps[%d].op: %w", index, err)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState, AssertLocalID:
		if a.Op == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: op and expect are required for %s", index, a.Type)
		}
	case AssertError:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for error", index)
		}
	case AssertCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for calls", index)
		}
	case AssertOutcome:
		if a.Trace == "" || a.Epoch == 0 || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: trace, epoch and expect are required for outcome", index)
		}
	case AssertTemplate:
		if a.Trace == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: trace and expect are required for template", index)
		}
	case AssertPhysicalOnly:
		if a.Trace == "" {
			return fmt.Errorf("assertions[%d]: trace is required for physical_only", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for physical_only", index)
		}
	case AssertStats:
		if len(a.Stats) == 0 {
			return fmt.Errorf("assertions[%d]: stats is required for stats", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
