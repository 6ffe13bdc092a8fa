package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/taskpilot/identity"
	"github.com/GoCodeAlone/taskpilot/task"
)

// Kind classifies a service failure.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAuthentication Kind = "AuthenticationError"
	KindNotFound       Kind = "NotFoundError"
	KindTimeout        Kind = "Timeout"
	KindUnknown        Kind = "UnknownError"
)

// FieldError names an offending input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the only error type returned by Service methods.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "Something went wrong"
}

func validation(message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func invalidField(field, message string) *Error {
	return validation(message, FieldError{Field: field, Message: message})
}

// authError maps identity failures.
func authError(err error) *Error {
	switch {
	case errors.Is(err, identity.ErrNoSubject):
		return &Error{Kind: KindAuthentication, Message: "Authentication required", Err: err}
	case errors.Is(err, identity.ErrUnknownUser):
		return &Error{Kind: KindAuthentication, Message: "User not found in database", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "Identity lookup timed out", Err: err}
	default:
		return &Error{Kind: KindAuthentication, Message: "Failed to authenticate user", Err: err}
	}
}

// storageError classifies a repository failure.
func storageError(err error) *Error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "Task not found", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "Operation timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Message: "Operation was cancelled", Err: err}
	default:
		return &Error{Kind: KindUnknown, Message: "Database operation failed", Err: err}
	}
}
