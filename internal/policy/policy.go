package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/memotrace/internal/memo"
)

// ErrPolicyNotFound is returned by Resolve for an unregistered id.
var ErrPolicyNotFound = errors.New("policy not found")

// Static always answers the same way.
type Static bool

// Memoize implements memo.Policy.
func (s Static) Memoize(context.Context, memo.MemoizeInput) (memo.MemoizeOutput, error) {
	return memo.MemoizeOutput{Memoize: bool(s)}, nil
}

// TracedOnly memoizes exactly the traced operations.
type TracedOnly struct{}

// Memoize implements memo.Policy.
func (TracedOnly) Memoize(_ context.Context, in memo.MemoizeInput) (memo.MemoizeOutput, error) {
	return memo.MemoizeOutput{Memoize: in.Traced}, nil
}

// Func adapts a function to memo.Policy.
type Func func(ctx context.Context, in memo.MemoizeInput) (memo.MemoizeOutput, error)

// Memoize implements memo.Policy.
func (f Func) Memoize(ctx context.Context, in memo.MemoizeInput) (memo.MemoizeOutput, error) {
	return f(ctx, in)
}

type kindKey struct{}

// WithKind attaches the kind of the operation being decided to ctx. Rules
// with a kinds allow-list read it back with KindFrom.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

// KindFrom returns the operation kind attached by WithKind.
func KindFrom(ctx context.Context) (string, bool) {
	kind, ok := ctx.Value(kindKey{}).(string)
	return kind, ok
}

// Registry maps policy ids to policies.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[memo.PolicyID]memo.Policy
}

var _ memo.PolicyResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[memo.PolicyID]memo.Policy)}
}

// Default returns a registry holding the built-in policies:
// "always", "never" and "traced".
func Default() *Registry {
	r := NewRegistry()
	r.Register("always", Static(true))
	r.Register("never", Static(false))
	r.Register("traced", TracedOnly{})
	return r
}

// Register adds or replaces a policy.
func (r *Registry) Register(id memo.PolicyID, p memo.Policy) {
	if p == nil {
		panic(fmt.Sprintf("policy: nil policy registered as %q", id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[id] = p
}

// RegisterRules registers every rule under its own id.
func (r *Registry) RegisterRules(rules []Rule) {
	for i := range rules {
		r.Register(rules[i].ID, rules[i])
	}
}

// Resolve implements memo.PolicyResolver.
func (r *Registry) Resolve(id memo.PolicyID) (memo.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPolicyNotFound, id)
	}
	return p, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []memo.PolicyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]memo.PolicyID, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
