package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a step failed.
type ErrorKind string

const (
	ErrKindUnresolvedReference ErrorKind = "unresolved_reference"
	ErrKindOperation           ErrorKind = "operation"
	ErrKindTimeout             ErrorKind = "timeout"
	ErrKindValidation          ErrorKind = "validation"
)

// StepError is the classified failure of a single step. Every error that
// arises while executing one step is converted to a StepError at the
// runner boundary; nothing propagates past it.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Step    string    `json:"step"`
	Message string    `json:"message"`
	cause   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s: %s", e.Step, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, when one exists.
func (e *StepError) Unwrap() error {
	return e.cause
}

func unresolvedErr(step, target string) *StepError {
	return &StepError{
		Kind:    ErrKindUnresolvedReference,
		Step:    step,
		Message: fmt.Sprintf("reference %q has no value in the context", target),
	}
}

func operationErr(step string, err error) *StepError {
	return &StepError{
		Kind:    ErrKindOperation,
		Step:    step,
		Message: err.Error(),
		cause:   err,
	}
}

func timeoutErr(step string, limit time.Duration) *StepError {
	return &StepError{
		Kind:    ErrKindTimeout,
		Step:    step,
		Message: fmt.Sprintf("exceeded deadline of %s", limit),
	}
}

func validationErr(step string, err error) *StepError {
	return &StepError{
		Kind:    ErrKindValidation,
		Step:    step,
		Message: err.Error(),
		cause:   err,
	}
}

// KindOf returns the classification of err, or an empty kind when err is
// not a StepError.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
