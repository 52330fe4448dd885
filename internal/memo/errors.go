package memo

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes memoization errors returned to callers.
type ErrorCode string

const (
	// ErrCodeInvalidMemoizationRequest indicates a policy asked to memoize an
	// operation that is not inside a trace.
	ErrCodeInvalidMemoizationRequest ErrorCode = "INVALID_MEMOIZATION_REQUEST"
)

// MemoError is a configuration error detected while deciding memoization.
//
// It never indicates a bug in this package: the scheduling policy broke its
// contract and the caller must reject the operation.
type MemoError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OperationID identifies the rejected operation.
	OperationID string

	// PolicyID identifies the policy that produced the bad decision.
	PolicyID PolicyID
}

// Error implements the error interface.
func (e *MemoError) Error() string {
	if e.PolicyID != "" {
		return fmt.Sprintf("%s: %s (op=%s, policy=%s)", e.Code, e.Message, e.OperationID, e.PolicyID)
	}
	return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.OperationID)
}

// NewInvalidMemoizationError creates the error returned when a policy requests
// memoization of an untraced operation.
func NewInvalidMemoizationError(opID string, policy PolicyID) *MemoError {
	return &MemoError{
		Code:        ErrCodeInvalidMemoizationRequest,
		Message:     "policy requested memoization of an operation that is not being traced",
		OperationID: opID,
		PolicyID:    policy,
	}
}

// IsInvalidMemoizationRequest returns true if err is (or wraps) an invalid
// memoization request.
func IsInvalidMemoizationRequest(err error) bool {
	var me *MemoError
	if errors.As(err, &me) {
		return me.Code == ErrCodeInvalidMemoizationRequest
	}
	return false
}

// InvariantError describes a broken precondition. It is the value passed to
// panic; it is never returned.
type InvariantError struct {
	// Op names the entry point whose precondition failed.
	Op string

	// OperationID identifies the operation.
	OperationID string

	// State is the memoization state observed at the time.
	State State

	// Message describes the violated invariant.
	Message string
}

// Error implements the error interface so recovered values print cleanly.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("memo invariant violated in %s: %s (op=%s, state=%s)", e.Op, e.Message, e.OperationID, e.State)
}

// violate panics with an InvariantError for m.
func (m *Memoizable) violate(op, msg string) {
	panic(&InvariantError{
		Op:          op,
		OperationID: m.id,
		State:       m.state,
		Message:     msg,
	})
}
