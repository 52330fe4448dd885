package policy

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/memotrace/internal/memo"
)

// Rule is a declarative policy compiled from CUE.
//
// A traced operation is memoized when Traced is set and, if Kinds is
// non-empty, its kind is listed. Untraced is answered verbatim for untraced
// operations; setting it makes every untraced decision an invalid request,
// which is occasionally useful to surface misconfigured workloads.
type Rule struct {
	ID       memo.PolicyID
	Traced   bool
	Untraced bool
	Kinds    []string
}

var _ memo.Policy = Rule{}

// Memoize implements memo.Policy. The operation kind is read from ctx
// (see WithKind); an operation without a kind never matches an allow-list.
func (r Rule) Memoize(ctx context.Context, in memo.MemoizeInput) (memo.MemoizeOutput, error) {
	if !in.Traced {
		return memo.MemoizeOutput{Memoize: r.Untraced}, nil
	}
	if !r.Traced {
		return memo.MemoizeOutput{}, nil
	}
	if len(r.Kinds) > 0 {
		kind, _ := KindFrom(ctx)
		if !slices.Contains(r.Kinds, kind) {
			return memo.MemoizeOutput{}, nil
		}
	}
	return memo.MemoizeOutput{Memoize: true}, nil
}

// CompileRule parses a CUE value into a Rule.
//
// The value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`policy: always: traced: true`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath("policy.always")))
func CompileRule(v cue.Value) (*Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "policy", Message: "policy must be a struct", Pos: v.Pos()}
	}

	rule := &Rule{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = memo.PolicyID(strings.Trim(labels[len(labels)-1].String(), `"`))
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		field := iter.Selector().String()
		fv := iter.Value()
		switch field {
		case "traced":
			if rule.Traced, err = fv.Bool(); err != nil {
				return nil, fieldError("traced", "must be a bool", fv)
			}
		case "untraced":
			if rule.Untraced, err = fv.Bool(); err != nil {
				return nil, fieldError("untraced", "must be a bool", fv)
			}
		case "kinds":
			if rule.Kinds, err = compileKinds(fv); err != nil {
				return nil, err
			}
		default:
			return nil, fieldError(field, "unknown field", fv)
		}
	}
	return rule, nil
}

func compileKinds(v cue.Value) ([]string, error) {
	list, err := v.List()
	if err != nil {
		return nil, fieldError("kinds", "must be a list of strings", v)
	}
	var kinds []string
	for list.Next() {
		kind, err := list.Value().String()
		if err != nil {
			return nil, fieldError("kinds", "must be a list of strings", list.Value())
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// CompileRules compiles every rule under the top-level "policy" struct.
// Rules that fail to compile are reported and skipped; rules are returned in
// source order.
func CompileRules(v cue.Value) ([]Rule, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	policies := v.LookupPath(cue.ParsePath("policy"))
	if !policies.Exists() {
		return nil, []error{&CompileError{Field: "policy", Message: "no policy struct found", Pos: v.Pos()}}
	}

	iter, err := policies.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}
	var rules []Rule
	var errs []error
	for iter.Next() {
		rule, err := CompileRule(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", iter.Selector().String(), err))
			continue
		}
		rules = append(rules, *rule)
	}
	return rules, errs
}

// LoadSource compiles CUE source into rules and validates them. filename is
// used for error positions only.
func LoadSource(filename string, src []byte) ([]Rule, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))

	rules, errs := CompileRules(v)
	for _, r := range rules {
		for _, verr := range Validate(r) {
			errs = append(errs, verr)
		}
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return rules, nil
}

// LoadFile reads and compiles a CUE policy file.
func LoadFile(path string) ([]Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return LoadSource(path, src)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field, msg string, v cue.Value) *CompileError {
	return &CompileError{Field: field, Message: msg, Pos: v.Pos()}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// joinErrors folds multiple load errors into one, keeping the first
// unwrappable.
func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%w (and %d more: %s)", errs[0], len(errs)-1, strings.Join(msgs[1:], "; "))
}
