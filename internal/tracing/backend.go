package tracing

import (
	"errors"

	"github.com/roach88/memotrace/internal/memo"
)

// Backend is a per-trace template store with epoch lifecycle hooks.
//
// CurrentTemplate/StartNewTemplate serve the memoization state machine and
// must make lookup-or-create atomic. The remaining methods are driven by the
// trace at epoch boundaries.
type Backend interface {
	memo.TemplateStore

	// Finalize turns the current recording template into a ready one,
	// stamping it with fp, and clears the current slot.
	Finalize(fp Fingerprint) error

	// Activate promotes the newest ready template to the current slot in
	// replay mode. It returns nil when no template is ready.
	Activate() (TemplateInfo, error)

	// Retire returns the current replaying template to ready and clears the
	// current slot.
	Retire() error

	// Invalidate discards the current template and every ready one.
	Invalidate() error
}

var (
	// ErrNoRecordingTemplate is returned by Finalize when no template is
	// being recorded.
	ErrNoRecordingTemplate = errors.New("no template is being recorded")

	// ErrNoReplayingTemplate is returned by Retire when no template is
	// being replayed.
	ErrNoReplayingTemplate = errors.New("no template is being replayed")

	// ErrCurrentTemplateBusy is returned by the in-memory Activate while a
	// template is already current.
	ErrCurrentTemplateBusy = errors.New("trace already has a current template")
)
