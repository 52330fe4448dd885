package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/ops"
	"github.com/roach88/memotrace/internal/policy"
	"github.com/roach88/memotrace/internal/store"
	"github.com/roach88/memotrace/internal/tracing"
)

// DefaultPolicy is used for operations that name no policy.
const DefaultPolicy memo.PolicyID = "traced"

const tracerName = "github.com/roach88/memotrace/internal/pipeline"

// DecisionLog persists decisions. Implemented by *store.Store.
type DecisionLog interface {
	WriteDecision(ctx context.Context, d store.Decision) error
	WritePhysicalOnly(ctx context.Context, p store.PhysicalOnlyRecord) error
}

var _ DecisionLog = (*store.Store)(nil)

// BackendFactory creates the template backend for a newly seen trace.
type BackendFactory func(trace string) tracing.Backend

// MemoryBackends keeps templates in process memory.
func MemoryBackends(ids tracing.IDGenerator) BackendFactory {
	return func(trace string) tracing.Backend {
		return tracing.NewTemplates(trace, ids)
	}
}

// StoreBackends keeps templates in s, so they survive the process.
func StoreBackends(ctx context.Context, s *store.Store, ids tracing.IDGenerator) BackendFactory {
	return func(trace string) tracing.Backend {
		return s.Templates(ctx, trace, ids)
	}
}

// Result describes a processed event.
type Result struct {
	Event EventType
	Trace string

	// Operation events.
	Decision store.Decision
	Calls    []ops.Hook
	Resolved bool

	// Epoch end and abort events.
	Epoch tracing.EpochResult

	Err error
}

// Pipeline is the single-writer memoization event loop.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run() / ProcessSync(): must be called from exactly one goroutine
//   - Stats(): safe from any goroutine
type Pipeline struct {
	cfg      memo.Config
	policies memo.PolicyResolver
	clock    Sequencer
	queue    *eventQueue
	backends BackendFactory
	log      DecisionLog
	tracer   trace.Tracer
	observer func(Result)

	traces map[string]*tracing.Trace
	stats  Stats
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// Sequencer hands out decision seq numbers. Implemented by *Clock and by the
// resettable test clock.
type Sequencer interface {
	Next() int64
}

// WithClock sets the logical clock. Used to resume after the decisions
// already in a store.
func WithClock(c Sequencer) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithBackends sets the template backend factory.
//
// Default: MemoryBackends with UUIDv7 template ids.
func WithBackends(f BackendFactory) Option {
	return func(p *Pipeline) { p.backends = f }
}

// WithDecisionLog persists every decision to log.
func WithDecisionLog(log DecisionLog) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithStore keeps templates in s and logs decisions there. Physical-only
// records reference durable template ids, so the two go together.
func WithStore(ctx context.Context, s *store.Store, ids tracing.IDGenerator) Option {
	return func(p *Pipeline) {
		p.backends = StoreBackends(ctx, s, ids)
		p.log = s
	}
}

// WithTracer sets the OpenTelemetry tracer. Default: the global provider's
// tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithObserver registers a callback invoked with every result produced by
// Run.
func WithObserver(f func(Result)) Option {
	return func(p *Pipeline) { p.observer = f }
}

// New creates a pipeline. cfg carries the process-wide kill switches;
// policies resolves the policy named by each operation.
func New(cfg memo.Config, policies memo.PolicyResolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		policies: policies,
		clock:    NewClock(),
		queue:    newEventQueue(),
		backends: MemoryBackends(tracing.UUIDv7Generator{}),
		tracer:   otel.Tracer(tracerName),
		traces:   make(map[string]*tracing.Trace),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the pipeline has been stopped.
func (p *Pipeline) Enqueue(ev Event) bool {
	return p.queue.Enqueue(ev)
}

// Stats returns the outcome counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Trace returns the named trace if the pipeline has seen it.
func (p *Pipeline) Trace(name string) (*tracing.Trace, bool) {
	t, ok := p.traces[name]
	return t, ok
}

// Traces returns the names of every trace seen, sorted.
func (p *Pipeline) Traces() []string {
	names := make([]string, 0, len(p.traces))
	for name := range p.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called and the queue has
// drained.
//
// ERROR HANDLING: On event processing failure, the error is logged with full
// event context and processing continues.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("pipeline starting")

	for {
		ev, ok := p.queue.TryDequeue()
		if ok {
			res, err := p.ProcessSync(ctx, ev)
			if err != nil {
				logEventError(ev, err)
			}
			if p.observer != nil {
				p.observer(res)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			p.queue.Close()
			return ctx.Err()

		case <-p.queue.Wait():
			// The signal channel closes with the queue, so this case also
			// fires once stopped.
			if p.queue.Len() == 0 && p.stopped() {
				slog.Info("pipeline stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue; Run returns once it has drained.
func (p *Pipeline) Stop() {
	p.queue.Close()
}

func (p *Pipeline) stopped() bool {
	p.queue.mu.Lock()
	defer p.queue.mu.Unlock()
	return p.queue.closed
}

// ProcessSync processes one event immediately. Used by Run and by callers
// that drive the pipeline deterministically, such as the scenario harness.
func (p *Pipeline) ProcessSync(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case EventTypeBeginEpoch, EventTypeEndEpoch, EventTypeAbortEpoch:
		return p.processEpoch(ev)

	case EventTypeOperation:
		if ev.Operation == nil {
			err := &ProcessError{Code: ErrCodeBadOperation, Trace: ev.Trace, Err: fmt.Errorf("operation event missing operation data")}
			return Result{Event: ev.Type, Trace: ev.Trace, Err: err}, err
		}
		return p.processOperation(ctx, ev.Trace, ev.Operation)

	default:
		err := fmt.Errorf("unknown event type: %d", ev.Type)
		return Result{Event: ev.Type, Trace: ev.Trace, Err: err}, err
	}
}

// trace returns the named trace, creating it on first use.
func (p *Pipeline) trace(name string) *tracing.Trace {
	t, ok := p.traces[name]
	if !ok {
		t = tracing.New(name, p.backends(name))
		p.traces[name] = t
	}
	return t
}

func (p *Pipeline) processEpoch(ev Event) (Result, error) {
	res := Result{Event: ev.Type, Trace: ev.Trace}
	if ev.Trace == "" {
		res.Err = &ProcessError{Code: ErrCodeEpoch, Err: fmt.Errorf("%s event missing trace", ev.Type)}
		return res, res.Err
	}
	t := p.trace(ev.Trace)

	var err error
	switch ev.Type {
	case EventTypeBeginEpoch:
		err = t.BeginEpoch()
		res.Epoch = tracing.EpochResult{Epoch: t.Epoch()}
	case EventTypeEndEpoch:
		res.Epoch, err = t.EndEpoch()
	case EventTypeAbortEpoch:
		res.Epoch, err = t.Abort()
	}
	if err != nil {
		res.Err = &ProcessError{Code: ErrCodeEpoch, Trace: ev.Trace, Err: err}
		return res, res.Err
	}

	if ev.Type != EventTypeBeginEpoch {
		p.stats.epochs.Add(1)
		if res.Epoch.Outcome == tracing.OutcomeDiverged {
			p.stats.diverged.Add(1)
		}
		slog.Debug("epoch closed",
			"trace", ev.Trace,
			"epoch", res.Epoch.Epoch,
			"outcome", res.Epoch.Outcome,
			"ops", res.Epoch.Operations,
		)
	}
	return res, nil
}

// processOperation runs one operation through registration, the scheduling
// policy and analysis, then persists the decision.
func (p *Pipeline) processOperation(ctx context.Context, traceName string, req *Operation) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "memotrace.analysis",
		trace.WithAttributes(
			attribute.String("op.id", req.ID),
			attribute.Int64("op.generation", int64(req.Generation)),
			attribute.String("op.kind", string(req.Spec.Kind)),
			attribute.String("trace", traceName),
		),
	)
	defer span.End()

	policyID := req.Policy
	if policyID == "" {
		policyID = DefaultPolicy
	}
	res := Result{Event: EventTypeOperation, Trace: traceName}
	res.Decision = store.Decision{
		OperationID: req.ID,
		Generation:  req.Generation,
		Kind:        string(req.Spec.Kind),
		Trace:       traceName,
		Point:       memo.NoPoint.String(),
		Policy:      string(policyID),
		State:       memo.NoMemo.String(),
	}

	op, err := ops.Build(req.Spec)
	if err != nil {
		return p.fail(ctx, span, res, ErrCodeBadOperation, err)
	}

	// An untraced operation must carry a nil interface, not a nil *Trace.
	var mt memo.Trace
	var tr *tracing.Trace
	if traceName != "" {
		tr = p.trace(traceName)
		mt = tr
	}
	m := memo.New(p.cfg, req.ID, req.Generation, mt, op)

	if tr != nil {
		idx, err := tr.Register(string(op.Kind()))
		if err != nil {
			return p.fail(ctx, span, res, ErrCodeBadOperation, err)
		}
		m.SetTraceLocalIndex(idx)
		res.Decision.Epoch = tr.Epoch()
	}
	lid := m.TraceLocalID()
	res.Decision.LocalIndex = lid.Index
	res.Decision.Point = lid.Point.String()

	if err := m.DecideMemoization(policy.WithKind(ctx, string(op.Kind())), p.policies, policyID); err != nil {
		code := ErrCodePolicyFailed
		if memo.IsInvalidMemoizationRequest(err) {
			code = ErrCodeRejected
		}
		return p.fail(ctx, span, res, code, err)
	}

	analysisErr := m.EnterAnalysis(ctx)

	res.Decision.State = m.State().String()
	if tpl := m.Template(); tpl != nil {
		res.Decision.TemplateID = tpl.ID()
	}
	res.Calls = op.Calls()
	res.Resolved = op.Resolved()
	span.SetAttributes(
		attribute.String("memo.state", res.Decision.State),
		attribute.String("trace.local_id", lid.String()),
	)

	if analysisErr != nil {
		return p.fail(ctx, span, res, ErrCodeAnalysisFailed, analysisErr)
	}

	if err := p.persist(ctx, &res, m); err != nil {
		perr := &ProcessError{Code: ErrCodePersist, Trace: res.Trace, OperationID: req.ID, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "persist failed")
		p.stats.failed.Add(1)
		res.Err = perr
		return res, perr
	}

	switch m.State() {
	case memo.Record:
		p.stats.recorded.Add(1)
	case memo.Replay:
		p.stats.replayed.Add(1)
	default:
		p.stats.unmemoized.Add(1)
	}

	slog.Debug("operation analysed",
		"op", req.ID,
		"generation", req.Generation,
		"kind", req.Spec.Kind,
		"trace", traceName,
		"local_id", lid.String(),
		"state", res.Decision.State,
		"template", res.Decision.TemplateID,
	)
	return res, nil
}

// fail records a failed operation: the decision is still persisted with its
// error so the log shows every operation.
func (p *Pipeline) fail(ctx context.Context, span trace.Span, res Result, code ErrorCode, cause error) (Result, error) {
	perr := &ProcessError{Code: code, Trace: res.Trace, OperationID: res.Decision.OperationID, Err: cause}
	res.Err = perr
	res.Decision.Error = cause.Error()

	span.RecordError(perr)
	span.SetStatus(codes.Error, string(code))

	if code == ErrCodeRejected {
		p.stats.rejected.Add(1)
	} else {
		p.stats.failed.Add(1)
	}

	if err := p.persistDecision(ctx, &res.Decision); err != nil {
		slog.Error("persist failed decision", "op", res.Decision.OperationID, "error", err)
	}
	return res, perr
}

func (p *Pipeline) persist(ctx context.Context, res *Result, m *memo.Memoizable) error {
	if err := p.persistDecision(ctx, &res.Decision); err != nil {
		return err
	}
	if m.State() != memo.Replay || p.log == nil {
		return nil
	}
	rec := store.PhysicalOnlyRecord{
		Trace:       res.Trace,
		OperationID: m.ID(),
		Generation:  m.Generation(),
		Epoch:       res.Decision.Epoch,
		TemplateID:  res.Decision.TemplateID,
		Seq:         p.clock.Next(),
	}
	if err := p.log.WritePhysicalOnly(ctx, rec); err != nil {
		return fmt.Errorf("write physical-only %s: %w", m.ID(), err)
	}
	return nil
}

// persistDecision stamps d with the next seq and writes it.
func (p *Pipeline) persistDecision(ctx context.Context, d *store.Decision) error {
	d.Seq = p.clock.Next()
	if p.log == nil {
		return nil
	}
	if err := p.log.WriteDecision(ctx, *d); err != nil {
		return fmt.Errorf("write decision %s: %w", d.OperationID, err)
	}
	return nil
}

// logEventError logs a processing failure with full event context.
func logEventError(ev Event, err error) {
	if ev.Operation != nil {
		slog.Error("operation processing failed",
			"error", err,
			"op", ev.Operation.ID,
			"generation", ev.Operation.Generation,
			"kind", ev.Operation.Spec.Kind,
			"trace", ev.Trace,
		)
		return
	}
	slog.Error("event processing failed",
		"error", err,
		"event_type", ev.Type.String(),
		"trace", ev.Trace,
	)
}
