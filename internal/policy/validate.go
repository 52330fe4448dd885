package policy

import (
	"fmt"
	"regexp"
)

// Validation error codes (P100-P199)
const (
	ErrInvalidPolicyID = "P101" // id must be a lowercase identifier
	ErrEmptyKind       = "P102" // kinds entries must be non-empty
	ErrDuplicateKind   = "P103" // kinds entries must be unique
	ErrKindsUnused     = "P104" // kinds without traced never matches
)

// ValidationError represents a rule validation error.
type ValidationError struct {
	Policy  string `json:"policy"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] policy %s: %s: %s", e.Code, e.Policy, e.Field, e.Message)
}

var policyIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Validate checks a compiled rule. Returns all errors found (does not
// fail-fast).
func Validate(r Rule) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Policy:  string(r.ID),
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if !policyIDPattern.MatchString(string(r.ID)) {
		add("id", ErrInvalidPolicyID, "invalid policy id %q", r.ID)
	}

	seen := make(map[string]bool, len(r.Kinds))
	for i, kind := range r.Kinds {
		if kind == "" {
			add(fmt.Sprintf("kinds[%d]", i), ErrEmptyKind, "kind must be non-empty")
			continue
		}
		if seen[kind] {
			add(fmt.Sprintf("kinds[%d]", i), ErrDuplicateKind, "duplicate kind %q", kind)
		}
		seen[kind] = true
	}

	if len(r.Kinds) > 0 && !r.Traced {
		add("kinds", ErrKindsUnused, "kinds has no effect unless traced is true")
	}
	return errs
}
