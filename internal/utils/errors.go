package utils

import "fmt"

// AppError wraps an operation, human-facing message, and underlying error.
// Kind optionally classifies the failure so callers can match it with errors.Is
// without losing the underlying cause.
type AppError struct {
	Op   string
	Msg  string
	Kind error
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's Kind.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewKindError constructs an AppError classified by kind.
func NewKindError(op string, kind, err error) error {
	msg := "failed"
	if kind != nil {
		msg = kind.Error()
	}
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}
