package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeCondition        = "CONDITION_ERROR"
	ErrCodeCapability       = "CAPABILITY_ERROR"
	ErrCodeLimitExceeded    = "LIMIT_EXCEEDED"
	ErrCodeLearningDisabled = "LEARNING_DISABLED"
	ErrCodeStore            = "STORE_ERROR"
	ErrCodeUnavailable      = "SKILL_UNAVAILABLE"
)

// Error is the structured error type returned by playbook operations.
type Error struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	StepName string         `json:"step,omitempty"`
	Cause    error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *Error) WithStep(name string) *Error {
	e.StepName = name
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code string) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
