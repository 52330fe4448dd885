package tracing

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces template ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids, so template listings
// sort by creation time.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns "<prefix>-1", "<prefix>-2", ... for deterministic
// tests and golden snapshots.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedGenerator creates a sequential generator. An empty prefix
// defaults to "tpl".
func NewFixedGenerator(prefix string) *FixedGenerator {
	if prefix == "" {
		prefix = "tpl"
	}
	return &FixedGenerator{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
