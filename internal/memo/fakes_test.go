package memo

import (
	"context"
	"errors"
	"fmt"
)

// recordingAnalyzer logs hook invocations in call order.
type recordingAnalyzer struct {
	calls     []string
	normalErr error
	replayErr error
}

func (a *recordingAnalyzer) RunNormalAnalysis(ctx context.Context) error {
	a.calls = append(a.calls, "normal")
	return a.normalErr
}

func (a *recordingAnalyzer) ResolveSpeculation() {
	a.calls = append(a.calls, "resolve")
}

func (a *recordingAnalyzer) RunReplayAnalysis(ctx context.Context) error {
	a.calls = append(a.calls, "replay")
	return a.replayErr
}

func (a *recordingAnalyzer) count(call string) int {
	n := 0
	for _, c := range a.calls {
		if c == call {
			n++
		}
	}
	return n
}

// pointAnalyzer refines the trace-local id with a point.
type pointAnalyzer struct {
	recordingAnalyzer
	point Point
}

func (a *pointAnalyzer) TracePoint() Point { return a.point }

type fakeTemplate struct {
	id        string
	replaying bool
}

func (t *fakeTemplate) ID() string        { return t.id }
func (t *fakeTemplate) IsReplaying() bool { return t.replaying }

type fakeStore struct {
	current  *fakeTemplate
	started  int
	lookups  int
	getErr   error
	startErr error
}

func (s *fakeStore) CurrentTemplate() (Template, error) {
	s.lookups++
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.current == nil {
		return nil, nil
	}
	return s.current, nil
}

func (s *fakeStore) StartNewTemplate() (Template, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.current != nil {
		return s.current, nil
	}
	s.started++
	s.current = &fakeTemplate{id: fmt.Sprintf("tpl-%d", s.started)}
	return s.current, nil
}

type physicalOnly struct {
	opID       string
	generation uint64
}

type fakeTrace struct {
	store     *fakeStore
	recording bool
	replaying bool
	marked    int
	physical  []physicalOnly
}

func newFakeTrace() *fakeTrace {
	return &fakeTrace{store: &fakeStore{}}
}

// replayingTrace returns a trace whose current template is ready for replay.
func replayingTrace() *fakeTrace {
	tr := newFakeTrace()
	tr.store.current = &fakeTemplate{id: "tpl-ready", replaying: true}
	tr.replaying = true
	return tr
}

func (t *fakeTrace) TemplateStore() TemplateStore { return t.store }

func (t *fakeTrace) MarkRecordingStarted() {
	t.marked++
	t.recording = true
}

func (t *fakeTrace) IsReplaying() bool { return t.replaying }
func (t *fakeTrace) IsRecording() bool { return t.recording }

func (t *fakeTrace) RegisterPhysicalOnly(op OperationRef, generation uint64) {
	t.physical = append(t.physical, physicalOnly{opID: op.ID(), generation: generation})
}

type fixedPolicy struct {
	out   MemoizeOutput
	err   error
	seen  []MemoizeInput
	calls int
}

func (p *fixedPolicy) Memoize(ctx context.Context, in MemoizeInput) (MemoizeOutput, error) {
	p.calls++
	p.seen = append(p.seen, in)
	return p.out, p.err
}

var errPolicyMissing = errors.New("policy not registered")

type mapResolver map[PolicyID]Policy

func (r mapResolver) Resolve(id PolicyID) (Policy, error) {
	p, ok := r[id]
	if !ok {
		return nil, errPolicyMissing
	}
	return p, nil
}
