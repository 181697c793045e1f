package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies an error for the resolver.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failed attempt that the resolver will
	// retry on a later pass.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a usage error, such as registering the
	// same step twice. Nothing is executed.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassFatal indicates the run must stop: a step exhausted its
	// attempts, the pending set deadlocked, or state could not be saved.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the step that caused the error, if any.
	Step string `json:"step,omitempty"`

	// Steps lists the steps left outstanding when the run stopped.
	Steps []string `json:"steps,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Step != "" {
		fmt.Fprintf(&b, " (step=%s)", e.Step)
	}
	if len(e.Steps) > 0 {
		fmt.Fprintf(&b, "; outstanding steps are: %s", strings.Join(e.Steps, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(name string) *EngineError {
	e.Step = name
	return e
}

// WithSteps records the outstanding steps.
func (e *EngineError) WithSteps(steps []string) *EngineError {
	e.Steps = steps
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, string, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, e.Code, true
	}
	return "", "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	class, _, ok := classOf(err)
	return ok && class == ErrorClassTransient
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	class, _, ok := classOf(err)
	return ok && class == ErrorClassPermanent
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	class, _, ok := classOf(err)
	return ok && class == ErrorClassFatal
}

// IsDeadlock returns true if the run stopped with unsatisfiable steps.
func IsDeadlock(err error) bool {
	_, code, ok := classOf(err)
	return ok && code == ErrCodeDeadlock
}

// IsRetriesExhausted returns true if a step ran out of attempts.
func IsRetriesExhausted(err error) bool {
	_, code, ok := classOf(err)
	return ok && code == ErrCodeRetriesExhausted
}

// OutstandingSteps returns the steps left pending by a fatal error.
func OutstandingSteps(err error) []string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Steps
	}
	return nil
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeDuplicateStep    = "DUPLICATE_STEP"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeDeadlock         = "DEADLOCK"
	ErrCodePersistence      = "PERSISTENCE_FAILED"
	ErrCodeStepFailed       = "STEP_FAILED"
)
