package memo

import (
	"context"
	"fmt"
	"log/slog"
)

// DecideMemoization consults the scheduling policy named by id and applies
// its decision with RequestMemoize.
//
// The policy sees only whether the operation is traced. A decision to
// memoize an untraced operation is rejected with a MemoError and leaves the
// state untouched. Policy resolution and policy errors are returned wrapped.
func (m *Memoizable) DecideMemoization(ctx context.Context, resolver PolicyResolver, id PolicyID) error {
	policy, err := resolver.Resolve(id)
	if err != nil {
		return fmt.Errorf("resolve policy %q: %w", id, err)
	}

	in := MemoizeInput{Traced: m.trace != nil}
	out, err := policy.Memoize(ctx, in)
	if err != nil {
		return fmt.Errorf("policy %q memoize decision for %s: %w", id, m.id, err)
	}

	if out.Memoize && !in.Traced {
		slog.Warn("policy requested memoization of untraced operation",
			"op", m.id,
			"policy", id,
		)
		return NewInvalidMemoizationError(m.id, id)
	}

	slog.Debug("memoization decided", "op", m.id, "policy", id, "traced", in.Traced, "memoize", out.Memoize)
	m.RequestMemoize(out.Memoize)
	return nil
}
