package memo

import (
	"context"
	"fmt"
	"log/slog"
)

// Memoizable carries the memoization fields of one operation instance and
// drives its record/replay decision.
//
// INVARIANTS:
//   - state advances NO_MEMO → MEMO_REQ → RECORD|REPLAY and never regresses
//   - state == MEMO_REQ implies trace != nil
//   - tpl is assigned once, on the MEMO_REQ → RECORD|REPLAY transition
type Memoizable struct {
	cfg        Config
	id         string
	generation uint64
	trace      Trace // nil when untraced
	analyzer   Analyzer

	state      State
	tpl        Template
	localIndex uint32
}

// New creates a Memoizable for an operation. trace may be nil for untraced
// operations. The returned value is already initialized.
func New(cfg Config, id string, generation uint64, trace Trace, analyzer Analyzer) *Memoizable {
	if analyzer == nil {
		panic("memo.New: nil analyzer")
	}
	m := &Memoizable{
		cfg:        cfg,
		id:         id,
		generation: generation,
		trace:      trace,
		analyzer:   analyzer,
	}
	m.Init()
	return m
}

// Init resets the memoization fields for a fresh operation instance.
func (m *Memoizable) Init() {
	m.state = NoMemo
	m.tpl = nil
}

// ID returns the operation's unique id.
func (m *Memoizable) ID() string { return m.id }

// Generation distinguishes re-issues of the same logical operation slot.
func (m *Memoizable) Generation() uint64 { return m.generation }

// State returns the current memoization state.
func (m *Memoizable) State() State { return m.state }

// Template returns the template the operation records into or replays, or
// nil before the decision is made.
func (m *Memoizable) Template() Template { return m.tpl }

// Traced reports whether the operation belongs to a trace.
func (m *Memoizable) Traced() bool { return m.trace != nil }

// Trace returns the enclosing trace, or nil.
func (m *Memoizable) Trace() Trace { return m.trace }

// RequestMemoize applies a memoization decision. It must be called at most
// once, before analysis.
//
// A true flag is silently downgraded to "off" when either kill switch in the
// process configuration is set.
func (m *Memoizable) RequestMemoize(flag bool) {
	if m.state != NoMemo {
		m.violate("RequestMemoize", "memoization already requested or decided")
	}
	if !flag {
		return
	}
	if !m.cfg.MemoizationAllowed() {
		slog.Debug("memoize request dropped by kill switch",
			"op", m.id,
			"tracing_disabled", m.cfg.TracingDisabled,
			"physical_tracing_disabled", m.cfg.PhysicalTracingDisabled,
		)
		return
	}
	if m.trace == nil {
		m.violate("RequestMemoize", "memoization requested for an untraced operation")
	}
	m.advance(MemoReq)
}

// EnterAnalysis runs the operation's dependence analysis, choosing between
// normal analysis, recording and replay. It must be called exactly once.
//
// Errors from the analyzer hooks are returned wrapped; by then the state
// transition has already happened and stands.
func (m *Memoizable) EnterAnalysis(ctx context.Context) error {
	if m.state != NoMemo && m.state != MemoReq {
		m.violate("EnterAnalysis", "analysis already entered")
	}

	if m.state == MemoReq {
		replay, err := m.bindTemplate()
		if err != nil {
			return err
		}
		if replay {
			m.trace.RegisterPhysicalOnly(m, m.generation)
			m.analyzer.ResolveSpeculation()
			if err := m.analyzer.RunReplayAnalysis(ctx); err != nil {
				return fmt.Errorf("replay analysis for %s: %w", m.id, err)
			}
			return nil
		}
	}

	if err := m.analyzer.RunNormalAnalysis(ctx); err != nil {
		return fmt.Errorf("analysis for %s: %w", m.id, err)
	}
	return nil
}

// bindTemplate looks up or starts the trace's current template and moves
// the operation to RECORD or REPLAY. It reports whether the operation
// replays.
func (m *Memoizable) bindTemplate() (bool, error) {
	if m.trace == nil {
		m.violate("EnterAnalysis", "MEMO_REQ without an enclosing trace")
	}
	store := m.trace.TemplateStore()
	if store == nil {
		m.violate("EnterAnalysis", "trace has no template store")
	}

	tpl, err := store.CurrentTemplate()
	if err != nil {
		return false, fmt.Errorf("current template for %s: %w", m.id, err)
	}
	if tpl == nil {
		m.trace.MarkRecordingStarted()
		tpl, err = store.StartNewTemplate()
		if err != nil {
			return false, fmt.Errorf("start template for %s: %w", m.id, err)
		}
		if tpl == nil {
			m.violate("EnterAnalysis", "template store started a nil template")
		}
		slog.Info("template started", "template", tpl.ID(), "op", m.id)
	}

	if tpl.IsReplaying() {
		if !m.trace.IsReplaying() {
			m.violate("EnterAnalysis", "template is replaying but trace is not")
		}
		m.tpl = tpl
		m.advance(Replay)
		slog.Debug("operation replays template", "op", m.id, "generation", m.generation, "template", tpl.ID())
		return true, nil
	}

	if !m.trace.IsRecording() {
		m.violate("EnterAnalysis", "template is recording but trace is not")
	}
	m.tpl = tpl
	m.advance(Record)
	slog.Debug("operation records into template", "op", m.id, "template", tpl.ID())
	return false, nil
}

// advance moves to the next state, enforcing the transition order.
func (m *Memoizable) advance(to State) {
	if !canAdvance(m.state, to) {
		m.violate("advance", fmt.Sprintf("illegal transition to %s", to))
	}
	m.state = to
}
