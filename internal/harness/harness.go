package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/ops"
	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/policy"
	"github.com/roach88/memotrace/internal/store"
	"github.com/roach88/memotrace/internal/testutil"
	"github.com/roach88/memotrace/internal/tracing"
)

// Options override the deterministic defaults of Run.
type Options struct {
	// Store receives templates and decisions. Default: a fresh in-memory
	// store, closed when the run ends.
	Store *store.Store

	// Clock stamps decision seqs. Default: testutil.DeterministicClock.
	Clock pipeline.Sequencer

	// IDs generates template ids. Default: tpl-1, tpl-2, ...
	IDs tracing.IDGenerator

	// Config kill switches are combined with the scenario's own.
	Config memo.Config

	// Policies extends the default registry. Loaded before the scenario's
	// policies file.
	Policies []policy.Rule
}

// Harness drives one scenario through a pipeline.
type Harness struct {
	pipe  *pipeline.Pipeline
	store *store.Store
	gens  map[string]uint64
}

// Run executes a scenario with deterministic defaults and returns the
// result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load the scenario's policies
// 3. Feed every step through the pipeline
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions executes a scenario against the given collaborators.
//
// Step failures are part of the result, not errors: a rejected operation
// shows up as an error code on its step. Only setup failures and invariant
// violations are returned as errors.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (result *Result, err error) {
	st := opts.Store
	if st == nil {
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}
	clock := opts.Clock
	if clock == nil {
		clock = testutil.NewDeterministicClock()
	}
	ids := opts.IDs
	if ids == nil {
		ids = tracing.NewFixedGenerator("tpl")
	}

	registry := policy.Default()
	registry.RegisterRules(opts.Policies)
	if scenario.Policies != "" {
		rules, err := policy.LoadFile(scenario.Policies)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		registry.RegisterRules(rules)
	}

	cfg := memo.Config{
		TracingDisabled:         opts.Config.TracingDisabled || scenario.Config.NoTracing,
		PhysicalTracingDisabled: opts.Config.PhysicalTracingDisabled || scenario.Config.NoPhysicalTracing,
	}

	h := &Harness{
		pipe:  pipeline.New(cfg, registry, pipeline.WithClock(clock), pipeline.WithStore(ctx, st, ids)),
		store: st,
		gens:  make(map[string]uint64),
	}

	defer h.abortOpenEpochs()
	defer func() {
		if r := recover(); r != nil {
			var inv *memo.InvariantError
			if e, ok := r.(error); ok && errors.As(e, &inv) {
				result, err = nil, fmt.Errorf("scenario %s: %w", scenario.Name, inv)
				return
			}
			panic(r)
		}
	}()

	result = NewResult()
	for i, step := range scenario.Steps {
		rec, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Steps = append(result.Steps, rec)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step. Pipeline errors are recorded on the step.
func (h *Harness) execute(ctx context.Context, step Step) (StepRecord, error) {
	var ev pipeline.Event
	var rec StepRecord
	switch {
	case step.Begin != "":
		ev, rec = pipeline.BeginEpoch(step.Begin), StepRecord{Kind: "begin", Trace: step.Begin}
	case step.End != "":
		ev, rec = pipeline.EndEpoch(step.End), StepRecord{Kind: "end", Trace: step.End}
	case step.Abort != "":
		ev, rec = pipeline.AbortEpoch(step.Abort), StepRecord{Kind: "abort", Trace: step.Abort}
	case step.Op != nil:
		op, err := h.operation(ctx, step.Op)
		if err != nil {
			return rec, err
		}
		ev, rec = pipeline.Submit(step.Op.Trace, op), StepRecord{Kind: "op", Trace: step.Op.Trace}
	default:
		return rec, fmt.Errorf("empty step")
	}

	res, err := h.pipe.ProcessSync(ctx, ev)
	if err != nil {
		rec.ErrorCode = string(pipeline.CodeOf(err))
		slog.Debug("scenario step failed", "kind", rec.Kind, "trace", rec.Trace, "error", err)
	}

	if rec.Kind == "op" {
		d := res.Decision
		rec.OpID = d.OperationID
		rec.Generation = d.Generation
		rec.OpKind = d.Kind
		rec.LocalID = memo.TraceLocalID{Index: d.LocalIndex}.String()
		if d.Point != memo.NoPoint.String() {
			rec.LocalID = fmt.Sprintf("%d@%s", d.LocalIndex, d.Point)
		}
		rec.State = d.State
		rec.TemplateID = d.TemplateID
		rec.Seq = d.Seq
		rec.Calls = make([]string, len(res.Calls))
		for i, c := range res.Calls {
			rec.Calls[i] = string(c)
		}
		return rec, nil
	}

	rec.Epoch = res.Epoch.Epoch
	if rec.Kind != "begin" && err == nil {
		rec.Outcome = string(res.Epoch.Outcome)
		rec.Ops = res.Epoch.Operations
	}
	return rec, nil
}

// operation converts an op step, assigning the next generation for its id
// when none is given. Generations continue from those already in the store,
// so a scenario can run repeatedly against one database.
func (h *Harness) operation(ctx context.Context, s *OpStep) (pipeline.Operation, error) {
	kind, err := ops.ParseKind(s.Kind)
	if err != nil {
		return pipeline.Operation{}, err
	}
	gen := s.Generation
	if gen == 0 {
		last, ok := h.gens[s.ID]
		if !ok {
			last, err = h.store.LastGeneration(ctx, s.ID)
			if err != nil {
				return pipeline.Operation{}, err
			}
		}
		gen = last + 1
	}
	h.gens[s.ID] = gen

	return pipeline.Operation{
		ID:         s.ID,
		Generation: gen,
		Spec: ops.Spec{
			Kind:        kind,
			Point:       s.Point,
			Speculative: s.Speculative,
			Fail:        s.Fail,
		},
		Policy: memo.PolicyID(s.Policy),
	}, nil
}

// abortOpenEpochs aborts every epoch the scenario left open, so a recording
// template does not stay current in a shared database once the run is over.
func (h *Harness) abortOpenEpochs() {
	for _, name := range h.pipe.Traces() {
		t, ok := h.pipe.Trace(name)
		if !ok || !t.InEpoch() {
			continue
		}
		if _, err := t.Abort(); err != nil {
			slog.Warn("failed to abort unfinished epoch", "trace", name, "error", err)
		}
	}
}

// collect copies the final pipeline and store state into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	result.Stats = h.pipe.Stats()

	templates, err := h.store.ReadTemplates(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read templates: %w", err)
	}
	result.Templates = templates

	physical, err := h.store.ReadPhysicalOnly(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read physical-only records: %w", err)
	}
	result.PhysicalOnly = physical
	return nil
}
