package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on a
	// later run. Examples: driver timeouts, a held package manager lock.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates ambiguous ownership or overlapping state.
	// Examples: an entry claimed by two drivers.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a failure that will repeat until the
	// configuration or the driver changes.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Common error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeDriverFailed = "DRIVER_FAILED"
	ErrCodeDriverPanic  = "DRIVER_PANIC"
	ErrCodeTimeout      = "DRIVER_TIMEOUT"
	ErrCodeUnhandled    = "UNHANDLED_ENTRY"
	ErrCodePhaseOrder   = "PHASE_ORDER"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

var (
	// ErrDriverUnavailable is returned by a driver factory when the driver
	// does not apply to this host. The registry skips such drivers silently.
	ErrDriverUnavailable = errors.New("driver unavailable on this host")

	// ErrUnknownDriver is returned when a driver name is not registered.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrPhaseOrder is returned when a phase is invoked before the phase it
	// depends on. It is the only error that escapes a run.
	ErrPhaseOrder = &EngineError{Class: ErrorClassPermanent, Code: ErrCodePhaseOrder, Message: "phase invoked out of order"}
)

// EngineError represents a classified error with run context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Driver is the driver involved, if any.
	Driver string `json:"driver,omitempty"`

	// Phase is the pipeline phase during which the error occurred.
	Phase Phase `json:"phase,omitempty"`

	// Entry is the Kind:Name of the entry involved, if any.
	Entry string `json:"entry,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Driver != "" && e.Entry != "":
		msg += fmt.Sprintf(" (driver=%s, phase=%s, entry=%s)", e.Driver, e.Phase, e.Entry)
	case e.Driver != "":
		msg += fmt.Sprintf(" (driver=%s, phase=%s)", e.Driver, e.Phase)
	case e.Entry != "":
		msg += fmt.Sprintf(" (entry=%s)", e.Entry)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
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
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithDriver adds driver context to an error.
func (e *EngineError) WithDriver(name string) *EngineError {
	e.Driver = name
	return e
}

// WithPhase adds phase context to an error.
func (e *EngineError) WithPhase(phase Phase) *EngineError {
	e.Phase = phase
	return e
}

// WithEntry adds entry context to an error.
func (e *EngineError) WithEntry(id string) *EngineError {
	e.Entry = id
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// classifyDriverError turns whatever a driver call produced into an
// EngineError carrying the call context. Errors the driver already classified
// keep their class and code.
func classifyDriverError(err error, driver string, phase Phase, entry string) *EngineError {
	var ee *EngineError
	switch {
	case errors.As(err, &ee):
		out := *ee
		if out.Code == "" {
			out.Code = ErrCodeDriverFailed
		}
		ee = &out
	case errors.Is(err, context.DeadlineExceeded):
		ee = NewTransientError("driver call timed out", err).WithCode(ErrCodeTimeout)
	default:
		ee = NewPermanentError("driver call failed", err).WithCode(ErrCodeDriverFailed)
	}
	ee = ee.WithDriver(driver).WithPhase(phase)
	if entry != "" {
		ee = ee.WithEntry(entry)
	}
	return ee
}

func phaseOrderError(phase Phase, requires Phase) error {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Code:    ErrCodePhaseOrder,
		Message: fmt.Sprintf("%s requires %s to run first", phase, requires),
		Phase:   phase,
	}
}
