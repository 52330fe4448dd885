package tracing

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/memotrace/internal/canonical"
	"github.com/roach88/memotrace/internal/memo"
)

// Mode is the lifecycle position of a template.
type Mode int32

const (
	// ModeRecording: under construction; the current template of its trace.
	ModeRecording Mode = iota
	// ModeReady: finished and available for replay.
	ModeReady
	// ModeReplaying: the current template, supplying cached analysis.
	ModeReplaying
	// ModeInvalid: discarded; never replayed again.
	ModeInvalid
)

var modeNames = [...]string{
	ModeRecording: "recording",
	ModeReady:     "ready",
	ModeReplaying: "replaying",
	ModeInvalid:   "invalid",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return ModeInvalid, fmt.Errorf("unknown template mode %q", s)
}

// Fingerprint summarises the operation stream a template was recorded from.
type Fingerprint struct {
	Hash string
	Ops  int
}

// IsZero reports whether no fingerprint has been recorded.
func (f Fingerprint) IsZero() bool { return f.Hash == "" && f.Ops == 0 }

// FingerprintOf hashes the ordered operation kinds of one epoch.
func FingerprintOf(kinds []string) (Fingerprint, error) {
	hash, err := canonical.Hash(canonical.DomainFingerprint, map[string]any{
		"kinds": kinds,
		"ops":   len(kinds),
	})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: %w", err)
	}
	return Fingerprint{Hash: hash, Ops: len(kinds)}, nil
}

// TemplateInfo is a template as seen by a trace: the memo view plus the
// fingerprint recorded when it finished.
type TemplateInfo interface {
	memo.Template
	Fingerprint() Fingerprint
}

// Template is the in-memory template used by Templates.
type Template struct {
	id    string
	trace string
	mode  atomic.Int32
	fp    Fingerprint
}

var _ TemplateInfo = (*Template)(nil)

func newTemplate(id, trace string) *Template {
	t := &Template{id: id, trace: trace}
	t.mode.Store(int32(ModeRecording))
	return t
}

// ID returns the template id.
func (t *Template) ID() string { return t.id }

// Trace returns the name of the owning trace.
func (t *Template) Trace() string { return t.trace }

// Mode returns the template's lifecycle mode.
func (t *Template) Mode() Mode { return Mode(t.mode.Load()) }

// IsReplaying reports whether the template is supplying cached analysis.
func (t *Template) IsReplaying() bool { return t.Mode() == ModeReplaying }

// Fingerprint returns the fingerprint recorded at finalisation.
func (t *Template) Fingerprint() Fingerprint { return t.fp }

func (t *Template) setMode(m Mode) { t.mode.Store(int32(m)) }
