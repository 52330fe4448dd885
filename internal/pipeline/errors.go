package pipeline

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeRejected indicates the scheduling policy asked to memoize an
	// untraced operation.
	ErrCodeRejected ErrorCode = "REJECTED"

	// ErrCodePolicyFailed indicates the policy could not be resolved or
	// failed to answer.
	ErrCodePolicyFailed ErrorCode = "POLICY_FAILED"

	// ErrCodeAnalysisFailed indicates an analysis hook returned an error.
	ErrCodeAnalysisFailed ErrorCode = "ANALYSIS_FAILED"

	// ErrCodeBadOperation indicates an operation could not be built or
	// registered.
	ErrCodeBadOperation ErrorCode = "BAD_OPERATION"

	// ErrCodeEpoch indicates an epoch event failed.
	ErrCodeEpoch ErrorCode = "EPOCH"

	// ErrCodePersist indicates the decision could not be written, including
	// a store conflict with an earlier decision of the same generation.
	ErrCodePersist ErrorCode = "PERSIST_FAILED"
)

// ProcessError is an error raised while processing one event.
type ProcessError struct {
	Code        ErrorCode
	Trace       string
	OperationID string
	Err         error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	switch {
	case e.OperationID != "" && e.Trace != "":
		return fmt.Sprintf("%s: %v (op=%s, trace=%s)", e.Code, e.Err, e.OperationID, e.Trace)
	case e.OperationID != "":
		return fmt.Sprintf("%s: %v (op=%s)", e.Code, e.Err, e.OperationID)
	case e.Trace != "":
		return fmt.Sprintf("%s: %v (trace=%s)", e.Code, e.Err, e.Trace)
	default:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ProcessError) Unwrap() error { return e.Err }

// IsRejected returns true if the error is a rejected memoization request.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsAnalysisError returns true if an analysis hook failed.
func IsAnalysisError(err error) bool {
	return hasCode(err, ErrCodeAnalysisFailed)
}

// CodeOf returns the error's code, or "" for errors not raised by the
// pipeline.
func CodeOf(err error) ErrorCode {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
