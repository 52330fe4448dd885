package harness

import (
	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/store"
)

// StepRecord is what one scenario step produced.
type StepRecord struct {
	// Kind is "begin", "end", "abort" or "op".
	Kind  string `json:"kind"`
	Trace string `json:"trace,omitempty"`

	// Epoch steps.
	Epoch   uint64 `json:"epoch,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Ops     int    `json:"ops,omitempty"`

	// Operation steps.
	OpID       string   `json:"op,omitempty"`
	Generation uint64   `json:"generation,omitempty"`
	OpKind     string   `json:"op_kind,omitempty"`
	LocalID    string   `json:"local_id,omitempty"`
	State      string   `json:"state,omitempty"`
	TemplateID string   `json:"template,omitempty"`
	Calls      []string `json:"calls,omitempty"`
	Seq        int64    `json:"seq,omitempty"`

	// ErrorCode is the pipeline error code, empty on success.
	ErrorCode string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall scenario success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Steps has one record per scenario step, in order.
	Steps []StepRecord `json:"steps"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Stats        pipeline.StatsSnapshot     `json:"stats"`
	Templates    []store.TemplateRecord     `json:"templates"`
	PhysicalOnly []store.PhysicalOnlyRecord `json:"physical_only"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// LastOp returns the last record of the operation id, or of the given
// generation when it is non-zero.
func (r *Result) LastOp(id string, generation uint64) (StepRecord, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		s := r.Steps[i]
		if s.Kind != "op" || s.OpID != id {
			continue
		}
		if generation == 0 || s.Generation == generation {
			return s, true
		}
	}
	return StepRecord{}, false
}

// Epoch returns the record closing the given epoch of a trace.
func (r *Result) Epoch(trace string, epoch uint64) (StepRecord, bool) {
	for _, s := range r.Steps {
		if (s.Kind == "end" || s.Kind == "abort") && s.Trace == trace && s.Epoch == epoch {
			return s, true
		}
	}
	return StepRecord{}, false
}
