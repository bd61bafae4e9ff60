package errors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = NewError("VALIDATION_ERROR", "message validation failed")
	ErrExpired            = NewError("EXPIRED", "message TTL has passed")
	ErrNotConnected       = NewError("NOT_CONNECTED", "target endpoint is not connected")
	ErrURITaken           = NewError("URI_TAKEN", "endpoint URI is already bound")
	ErrAlreadyLoggedIn    = NewError("ALREADY_LOGGED_IN", "session is already logged in")
	ErrUnknownMessageType = NewError("UNKNOWN_MESSAGE_TYPE", "unrecognized server message type")
	ErrQueue              = NewError("QUEUE_ERROR", "queue backend fault")
	ErrInternal           = NewError("INTERNAL_ERROR", "internal broker error")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// Error is a coded broker error. Validation, login, and unknown-type errors
// are terminal for the message that caused them; delivery errors are
// retryable until the message expires.
type Error struct {
	Code      string
	Message   string
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	switch e.Code {
	case ErrNotConnected.Code, ErrQueue.Code:
		return true
	}
	return false
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	err := *e
	err.Message = fmt.Sprintf(format, args...)
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}
