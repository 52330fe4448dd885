package cli

import (
	"io"
	"log/slog"
)

// newLogger builds the process logger. Logs always go to w (stderr) so JSON
// output on stdout stays parseable; --format json also switches the log
// handler to JSON. --verbose forces debug level.
func newLogger(w io.Writer, opts *RootOptions) *slog.Logger {
	level := opts.Config.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
