package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned for unknown resource, claim, task or specification ids
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input; see ValidationError
	ErrValidation = errors.New("validation failed")

	// ErrNotLeader is returned for writes sent to a raft follower
	ErrNotLeader = errors.New("not the leader")
)

// ValidationError is returned for malformed requests. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError formats a ValidationError
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the kind and id of the missing object
func NotFound(kind string, id interface{}) error {
	return errors.Wrapf(ErrNotFound, "%s %v", kind, id)
}

// EstimationError means the estimator rejected the specification
type EstimationError struct {
	Reasons []string
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimation failed: %v", e.Reasons)
}

// PropagationError means pushing state to an external system failed
type PropagationError struct {
	Target string
	Err    error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagation to %s failed: %v", e.Target, e.Err)
}

func (e *PropagationError) Unwrap() error {
	return e.Err
}

// TransientRPCError is a timeout or unavailable collaborator
type TransientRPCError struct {
	Method string
	Err    error
}

func (e *TransientRPCError) Error() string {
	return fmt.Sprintf("transient rpc error calling %s: %v", e.Method, e.Err)
}

func (e *TransientRPCError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientRPCError
func IsTransient(err error) bool {
	var t *TransientRPCError
	return errors.As(err, &t)
}
