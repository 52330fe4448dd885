package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memotrace/internal/memo"
)

func decide(t *testing.T, ctx context.Context, p memo.Policy, traced bool) bool {
	t.Helper()
	out, err := p.Memoize(ctx, memo.MemoizeInput{Traced: traced})
	require.NoError(t, err)
	return out.Memoize
}

func TestBuiltinPolicies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		policy   memo.Policy
		traced   bool
		untraced bool
	}{
		{"static true", Static(true), true, true},
		{"static false", Static(false), false, false},
		{"traced only", TracedOnly{}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.traced, decide(t, ctx, tt.policy, true))
			assert.Equal(t, tt.untraced, decide(t, ctx, tt.policy, false))
		})
	}
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	p := Func(func(context.Context, memo.MemoizeInput) (memo.MemoizeOutput, error) {
		return memo.MemoizeOutput{}, boom
	})

	_, err := p.Memoize(context.Background(), memo.MemoizeInput{})
	assert.ErrorIs(t, err, boom)
}

func TestKindContext(t *testing.T) {
	_, ok := KindFrom(context.Background())
	assert.False(t, ok)

	kind, ok := KindFrom(WithKind(context.Background(), "copy"))
	assert.True(t, ok)
	assert.Equal(t, "copy", kind)
}

func TestRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []memo.PolicyID{"always", "never", "traced"}, r.IDs())

	p, err := r.Resolve("always")
	require.NoError(t, err)
	assert.True(t, decide(t, context.Background(), p, true))

	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, ErrPolicyNotFound)
	assert.Contains(t, err.Error(), `"missing"`)

	r.Register("always", Static(false))
	p, err = r.Resolve("always")
	require.NoError(t, err)
	assert.False(t, decide(t, context.Background(), p, true))
}

func TestRegistry_NilPolicyPanics(t *testing.T) {
	assert.Panics(t, func() { NewRegistry().Register("x", nil) })
}

func TestRegistry_DecideMemoization(t *testing.T) {
	r := Default()
	m := memo.New(memo.Config{}, "op1", 1, nil, nopAnalyzer{})

	err := m.DecideMemoization(context.Background(), r, "always")
	assert.True(t, memo.IsInvalidMemoizationRequest(err))
	assert.Equal(t, memo.NoMemo, m.State())

	m = memo.New(memo.Config{}, "op2", 1, nil, nopAnalyzer{})
	require.NoError(t, m.DecideMemoization(context.Background(), r, "traced"))
	assert.Equal(t, memo.NoMemo, m.State())
}

type nopAnalyzer struct{}

func (nopAnalyzer) RunNormalAnalysis(context.Context) error { return nil }
func (nopAnalyzer) ResolveSpeculation()                     {}
func (nopAnalyzer) RunReplayAnalysis(context.Context) error { return nil }
