// Package engine defines the core types for the OpsForge automation-run
// pipeline: target hosts, run kinds and their strategies, progress
// events, credential sets, and classified run errors.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a run error for reporting and propagation.
type ErrorClass string

const (
	// ErrorClassValidation indicates the run request was rejected
	// before any process was spawned.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassSpawn indicates the engine binary or its compatibility
	// layer could not be started. No stdout/stderr exists.
	ErrorClassSpawn ErrorClass = "spawn"

	// ErrorClassRun indicates the engine ran and exited nonzero.
	// Stdout/stderr and partial credentials are still available.
	ErrorClassRun ErrorClass = "run"

	// ErrorClassInternal indicates an unexpected pipeline failure.
	ErrorClassInternal ErrorClass = "internal"
)

// RunError is a classified error with run context.
type RunError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// RunID is the run that produced the error, if known.
	RunID string `json:"run_id,omitempty"`

	// Host is the target host involved, if applicable.
	Host string `json:"host,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.RunID != "" {
		msg = fmt.Sprintf("[%s] %s (run=%s)", e.Class, e.Message, e.RunID)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithRun adds run context to the error.
func (e *RunError) WithRun(runID string) *RunError {
	e.RunID = runID
	return e
}

// WithHost adds host context to the error.
func (e *RunError) WithHost(host string) *RunError {
	e.Host = host
	return e
}

// WithCode adds an error code.
func (e *RunError) WithCode(code string) *RunError {
	e.Code = code
	return e
}

// NewValidationError creates a validation-class error.
func NewValidationError(message string, err error) *RunError {
	return &RunError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewSpawnError creates a spawn-class error.
func NewSpawnError(message string, err error) *RunError {
	return &RunError{Class: ErrorClassSpawn, Message: message, Err: err}
}

// NewRunFailedError creates a run-class error.
func NewRunFailedError(message string, err error) *RunError {
	return &RunError{Class: ErrorClassRun, Message: message, Err: err}
}

// NewInternalError creates an internal-class error.
func NewInternalError(message string, err error) *RunError {
	return &RunError{Class: ErrorClassInternal, Message: message, Err: err}
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsSpawn reports whether err is classified as a spawn error.
func IsSpawn(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSpawn
	}
	return false
}

// IsRunFailed reports whether err is classified as a run failure.
func IsRunFailed(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRun
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNoHosts     = "NO_HOSTS"
	ErrCodeNoMaster    = "NO_MASTER"
	ErrCodeSpawnFailed = "SPAWN_FAILED"
	ErrCodeTasksFailed = "TASKS_FAILED"
	ErrCodeUnreachable = "HOSTS_UNREACHABLE"
	ErrCodeNonzeroExit = "NONZERO_EXIT"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeInternal    = "INTERNAL_ERROR"
)
