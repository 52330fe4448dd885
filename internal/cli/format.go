package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/memotrace/internal/harness"
	"github.com/roach88/memotrace/internal/pipeline"
)

// formatStep writes one scenario step as a timeline line.
func formatStep(w io.Writer, s harness.StepRecord) {
	switch s.Kind {
	case "op":
		trace := s.Trace
		if trace == "" {
			trace = "-"
		}
		fmt.Fprintf(w, "  [%d] OP %s#%d %s trace=%s local=%s %s", s.Seq, s.OpID, s.Generation, s.OpKind, trace, s.LocalID, s.State)
		if s.TemplateID != "" {
			fmt.Fprintf(w, " template=%s", truncateID(s.TemplateID))
		}
	case "begin":
		fmt.Fprintf(w, "  BEGIN %s epoch=%d", s.Trace, s.Epoch)
	default:
		fmt.Fprintf(w, "  %s %s epoch=%d", strings.ToUpper(s.Kind), s.Trace, s.Epoch)
		if s.Outcome != "" {
			fmt.Fprintf(w, " outcome=%s ops=%d", s.Outcome, s.Ops)
		}
	}
	if s.ErrorCode != "" {
		fmt.Fprintf(w, " error=%s", s.ErrorCode)
	}
	fmt.Fprintln(w)
}

func formatStats(w io.Writer, s pipeline.StatsSnapshot) {
	fmt.Fprintf(w, "  Recorded:   %d\n", s.Recorded)
	fmt.Fprintf(w, "  Replayed:   %d\n", s.Replayed)
	fmt.Fprintf(w, "  Unmemoized: %d\n", s.Unmemoized)
	fmt.Fprintf(w, "  Rejected:   %d\n", s.Rejected)
	fmt.Fprintf(w, "  Failed:     %d\n", s.Failed)
	fmt.Fprintf(w, "  Epochs:     %d (%d diverged)\n", s.Epochs, s.Diverged)
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
