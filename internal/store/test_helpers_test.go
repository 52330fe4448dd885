package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/memotrace/internal/tracing"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTemplates returns the durable templates of trace with
// deterministic ids.
func createTestTemplates(t *testing.T, s *Store, trace string) *DurableTemplates {
	t.Helper()
	return s.Templates(context.Background(), trace, tracing.NewFixedGenerator(trace))
}

// createTestDecision creates a decision with minimal required fields.
func createTestDecision(opID string, generation uint64, trace, state string, seq int64) Decision {
	return Decision{
		OperationID: opID,
		Generation:  generation,
		Kind:        "task",
		Trace:       trace,
		State:       state,
		Seq:         seq,
	}
}
