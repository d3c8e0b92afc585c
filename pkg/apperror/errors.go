package apperror

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Workflow and I/O error codes. The first three are terminal for the calling
// action and never retried; StoreUnavailable is retried only on reads.
const (
	CodeUnauthorized ErrorCode = iota + 1000
	CodeAlreadyDecided
	CodeNotFound
	CodeStoreUnavailable
	CodeFanoutFailed
	CodeBadRequest
	CodeInternal
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code so wrapped instances compare equal to sentinels.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func Unauthorized(role, action string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: fmt.Sprintf("role %s may not %s", role, action),
	}
}

func AlreadyDecided(entity string, state string) *AppError {
	return &AppError{
		Code:    CodeAlreadyDecided,
		Message: fmt.Sprintf("%s already %s", entity, state),
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    CodeStoreUnavailable,
		Message: "store unavailable",
		Err:     err,
	}
}

func FanoutFailed(err error) *AppError {
	return &AppError{
		Code:    CodeFanoutFailed,
		Message: "notification fan-out failed",
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// CodeOf extracts the error code from any error in the chain, defaulting
// to CodeInternal.
func CodeOf(err error) ErrorCode {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
