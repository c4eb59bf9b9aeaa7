package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a failure for metric rows, run errors, and the
// HTTP status mapping.
type ErrorType string

const (
	ErrTypeValidation ErrorType = "validation_error"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeExecution  ErrorType = "execution_error"
	ErrTypeStorage    ErrorType = "storage_error"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Type)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf builds a non-retryable validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Type: ErrTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Type: ErrTypeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Timeoutf builds a timeout error.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Type: ErrTypeTimeout, Message: fmt.Sprintf(format, args...)}
}

// Executionf builds an execution error.
func Executionf(format string, args ...any) *Error {
	return &Error{Type: ErrTypeExecution, Message: fmt.Sprintf(format, args...)}
}

// StorageErr wraps a store failure.
func StorageErr(msg string, err error) *Error {
	return &Error{Type: ErrTypeStorage, Message: msg, Err: err}
}

// Common sentinels returned by the stores and services.
var (
	ErrFlowNotFound        = &Error{Type: ErrTypeNotFound, Message: "flow not found"}
	ErrFlowVersionNotFound = &Error{Type: ErrTypeNotFound, Message: "flow version not found"}
	ErrRunNotFound         = &Error{Type: ErrTypeNotFound, Message: "run not found"}
	ErrFlowExists          = &Error{Type: ErrTypeValidation, Message: "flow with this name and version already exists"}

	// ErrCleanupInProgress signals advisory-lock contention; the HTTP
	// layer maps it to 409.
	ErrCleanupInProgress = errors.New("cleanup already in progress")
)

// Classify resolves the error type of any error. Typed errors win;
// context deadline and substring heuristics cover foreign errors from
// node handlers and transports.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Type != "" {
		return typed.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrTypeTimeout
	case strings.Contains(msg, "not found"):
		return ErrTypeNotFound
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return ErrTypeValidation
	}
	return ErrTypeExecution
}
