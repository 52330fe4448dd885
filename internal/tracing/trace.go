package tracing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/memotrace/internal/memo"
)

// Phase is the trace's activity within the current epoch.
type Phase int

const (
	// PhaseIdle: no template is being recorded or replayed.
	PhaseIdle Phase = iota
	// PhaseRecording: the current template is under construction.
	PhaseRecording
	// PhaseReplaying: the current template supplies cached analysis.
	PhaseReplaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRecording:
		return "recording"
	case PhaseReplaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// Outcome reports what an epoch did with its template.
type Outcome string

const (
	OutcomeNone     Outcome = "none"     // no memoized operation
	OutcomeRecorded Outcome = "recorded" // template finished recording
	OutcomeReplayed Outcome = "replayed" // template replayed, still valid
	OutcomeDiverged Outcome = "diverged" // replay diverged, template dropped
	OutcomeAborted  Outcome = "aborted"  // epoch abandoned
)

var (
	// ErrEpochOpen is returned by BeginEpoch when the previous epoch has not
	// ended.
	ErrEpochOpen = errors.New("trace epoch already open")

	// ErrNoEpoch is returned when an epoch operation runs outside an epoch.
	ErrNoEpoch = errors.New("trace has no open epoch")
)

// PhysicalOnly is an operation registered for physical bookkeeping while
// its logical analysis came from a replayed template.
type PhysicalOnly struct {
	OperationID string
	Generation  uint64
	Epoch       uint64
}

// EpochResult summarises a finished epoch.
type EpochResult struct {
	Epoch       uint64
	Outcome     Outcome
	Operations  int
	Fingerprint Fingerprint
}

// Trace implements memo.Trace over a pluggable Backend.
//
// Thread-safety: safe for concurrent use. Per-operation ordering is the
// pipeline's responsibility; the trace only serialises its own fields.
type Trace struct {
	mu      sync.Mutex
	name    string
	backend Backend

	epoch    uint64
	open     bool
	phase    Phase
	next     uint32
	kinds    []string
	physical []PhysicalOnly
	expected Fingerprint // fingerprint of the template being replayed
}

var _ memo.Trace = (*Trace)(nil)

// New creates a trace named name backed by backend.
func New(name string, backend Backend) *Trace {
	return &Trace{name: name, backend: backend}
}

// Name returns the trace name.
func (t *Trace) Name() string { return t.name }

// Epoch returns the number of the current (or last) epoch.
func (t *Trace) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// Phase returns the trace's current phase.
func (t *Trace) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// InEpoch reports whether an epoch is open.
func (t *Trace) InEpoch() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// BeginEpoch opens the next epoch. If the backend holds a finished template
// it is activated and the epoch replays.
func (t *Trace) BeginEpoch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return ErrEpochOpen
	}

	tpl, err := t.backend.Activate()
	if err != nil {
		return fmt.Errorf("begin epoch for trace %s: %w", t.name, err)
	}

	t.epoch++
	t.open = true
	t.next = 0
	t.kinds = nil
	t.physical = nil
	t.phase = PhaseIdle
	t.expected = Fingerprint{}
	if tpl != nil {
		t.phase = PhaseReplaying
		t.expected = tpl.Fingerprint()
		slog.Info("trace epoch replaying", "trace", t.name, "epoch", t.epoch, "template", tpl.ID())
	} else {
		slog.Debug("trace epoch begun", "trace", t.name, "epoch", t.epoch)
	}
	return nil
}

// Register assigns the next trace-local index to an operation of the given
// kind. Indices restart at zero every epoch.
func (t *Trace) Register(kind string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return 0, ErrNoEpoch
	}
	idx := t.next
	t.next++
	t.kinds = append(t.kinds, kind)
	return idx, nil
}

// EndEpoch closes the epoch. A recording template is finalised; a replaying
// one is kept when the epoch matched its fingerprint and invalidated
// otherwise.
func (t *Trace) EndEpoch() (EpochResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return EpochResult{}, ErrNoEpoch
	}

	fp, err := FingerprintOf(t.kinds)
	if err != nil {
		return EpochResult{}, err
	}
	res := EpochResult{Epoch: t.epoch, Outcome: OutcomeNone, Operations: len(t.kinds), Fingerprint: fp}

	switch t.phase {
	case PhaseRecording:
		if err := t.backend.Finalize(fp); err != nil {
			return res, fmt.Errorf("finalize template for trace %s: %w", t.name, err)
		}
		res.Outcome = OutcomeRecorded
		slog.Info("template recorded", "trace", t.name, "epoch", t.epoch, "ops", fp.Ops)

	case PhaseReplaying:
		if fp != t.expected {
			if err := t.backend.Invalidate(); err != nil {
				return res, fmt.Errorf("invalidate template for trace %s: %w", t.name, err)
			}
			res.Outcome = OutcomeDiverged
			slog.Warn("replayed epoch diverged from template",
				"trace", t.name,
				"epoch", t.epoch,
				"expected_ops", t.expected.Ops,
				"actual_ops", fp.Ops,
			)
		} else {
			if err := t.backend.Retire(); err != nil {
				return res, fmt.Errorf("retire template for trace %s: %w", t.name, err)
			}
			res.Outcome = OutcomeReplayed
		}
	}

	t.open = false
	t.phase = PhaseIdle
	return res, nil
}

// Abort abandons the open epoch and discards any template it touched.
func (t *Trace) Abort() (EpochResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return EpochResult{}, ErrNoEpoch
	}
	res := EpochResult{Epoch: t.epoch, Outcome: OutcomeAborted, Operations: len(t.kinds)}
	if t.phase != PhaseIdle {
		if err := t.backend.Invalidate(); err != nil {
			return res, fmt.Errorf("abort trace %s: %w", t.name, err)
		}
	}
	t.open = false
	t.phase = PhaseIdle
	slog.Warn("trace epoch aborted", "trace", t.name, "epoch", t.epoch)
	return res, nil
}

// PhysicalOnly returns the physical-only registrations of the current epoch.
func (t *Trace) PhysicalOnly() []PhysicalOnly {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PhysicalOnly, len(t.physical))
	copy(out, t.physical)
	return out
}

// TemplateStore implements memo.Trace.
func (t *Trace) TemplateStore() memo.TemplateStore { return t.backend }

// MarkRecordingStarted implements memo.Trace.
func (t *Trace) MarkRecordingStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseRecording
}

// IsReplaying implements memo.Trace.
func (t *Trace) IsReplaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == PhaseReplaying
}

// IsRecording implements memo.Trace.
func (t *Trace) IsRecording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == PhaseRecording
}

// RegisterPhysicalOnly implements memo.Trace.
func (t *Trace) RegisterPhysicalOnly(op memo.OperationRef, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.physical = append(t.physical, PhysicalOnly{
		OperationID: op.ID(),
		Generation:  generation,
		Epoch:       t.epoch,
	})
}
