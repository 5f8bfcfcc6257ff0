package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the tupleflow engine

var (
	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNoUpstream indicates that an operator requiring an upstream was opened without one
	ErrNoUpstream = errors.New("input operator not specified")

	// ErrServiceUnavailable indicates that the external compute service could not be reached
	ErrServiceUnavailable = errors.New("compute service unavailable")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ConfigurationError reports a bad operator or engine configuration discovered
// at open-time: a missing or duplicate schema attribute, a wrongly typed input,
// or a missing upstream. It is fatal to the affected stage only.
type ConfigurationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	hint   string
}

// NewConfigurationError creates a ConfigurationError for the given module and field.
func NewConfigurationError(module, field string, value interface{}, reason string) *ConfigurationError {
	return &ConfigurationError{Module: module, Field: field, Value: value, Reason: reason}
}

// WithHint attaches a short remediation hint to the error.
func (e *ConfigurationError) WithHint(hint string) *ConfigurationError {
	e.hint = hint
	return e
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: %s %v %s", e.Module, e.Field, e.Value, e.Reason)
	if e.hint != "" {
		msg += " (" + e.hint + ")"
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrInvalidConfiguration) to match.
func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// StageError reports a fatal runtime failure of a single stage: a compute
// service protocol violation, a result-count mismatch, or an exhausted
// reconnection budget. It aborts the owning principal without affecting
// sibling principals.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

// NewStageError creates a StageError for the given stage.
func NewStageError(stage, reason string, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsConfiguration returns true if the error is an open-time configuration error.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsStageFatal returns true if the error aborts the owning stage.
func IsStageFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServiceUnavailable)
}
