package tracing

import (
	"sync"

	"github.com/roach88/memotrace/internal/memo"
)

// Templates is an in-memory Backend for one trace.
//
// Thread-safety: all methods are safe for concurrent use. The mutex makes
// StartNewTemplate's lookup-or-create atomic, so at most one template is
// ever under construction.
type Templates struct {
	mu      sync.Mutex
	trace   string
	ids     IDGenerator
	current *Template
	ready   []*Template // oldest first
	all     []*Template
}

var _ Backend = (*Templates)(nil)

// NewTemplates creates an empty store for the named trace. A nil generator
// defaults to UUIDv7Generator.
func NewTemplates(trace string, ids IDGenerator) *Templates {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	return &Templates{trace: trace, ids: ids}
}

// CurrentTemplate returns the current template, or nil.
func (s *Templates) CurrentTemplate() (memo.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, nil
	}
	return s.current, nil
}

// StartNewTemplate starts a recording template unless one is already current.
func (s *Templates) StartNewTemplate() (memo.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	t := newTemplate(s.ids.Generate(), s.trace)
	s.current = t
	s.all = append(s.all, t)
	return t, nil
}

// Finalize implements Backend.
func (s *Templates) Finalize(fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Mode() != ModeRecording {
		return ErrNoRecordingTemplate
	}
	s.current.fp = fp
	s.current.setMode(ModeReady)
	s.ready = append(s.ready, s.current)
	s.current = nil
	return nil
}

// Activate implements Backend.
func (s *Templates) Activate() (TemplateInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrCurrentTemplateBusy
	}
	if len(s.ready) == 0 {
		return nil, nil
	}
	t := s.ready[len(s.ready)-1]
	s.ready = s.ready[:len(s.ready)-1]
	t.setMode(ModeReplaying)
	s.current = t
	return t, nil
}

// Retire implements Backend.
func (s *Templates) Retire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Mode() != ModeReplaying {
		return ErrNoReplayingTemplate
	}
	s.current.setMode(ModeReady)
	s.ready = append(s.ready, s.current)
	s.current = nil
	return nil
}

// Invalidate implements Backend.
func (s *Templates) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.setMode(ModeInvalid)
		s.current = nil
	}
	for _, t := range s.ready {
		t.setMode(ModeInvalid)
	}
	s.ready = nil
	return nil
}

// All returns every template ever started, oldest first.
func (s *Templates) All() []*Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Template, len(s.all))
	copy(out, s.all)
	return out
}
