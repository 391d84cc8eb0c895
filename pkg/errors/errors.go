package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies failures by how the session should react to them
type ErrorCode string

const (
	ErrCodeTransport     ErrorCode = "TRANSPORT"
	ErrCodeDevice        ErrorCode = "DEVICE"
	ErrCodeDeviceTimeout ErrorCode = "DEVICE_TIMEOUT"
	ErrCodeHandshake     ErrorCode = "HANDSHAKE"
	ErrCodeLocalIO       ErrorCode = "LOCAL_IO"
	ErrCodeProtocol      ErrorCode = "PROTOCOL"
	ErrCodeQueueClosed   ErrorCode = "QUEUE_CLOSED"
	ErrCodeConfig        ErrorCode = "CONFIG"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error ends the current session
func (e *AppError) Fatal() bool {
	switch e.Code {
	case ErrCodeTransport, ErrCodeDevice, ErrCodeHandshake, ErrCodeProtocol, ErrCodeConfig:
		return true
	default:
		return false
	}
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

func NewTransportError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransport, message)
}

func NewDeviceError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeDevice, message)
}

func NewDeviceTimeoutError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeDeviceTimeout, message)
}

func NewHandshakeError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeHandshake, message)
}

func NewLocalIOError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeLocalIO, message)
}

func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether an AppError with the given code is in the chain
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsFatal reports whether err must end the session. Errors that carry no
// AppError are treated as fatal since their origin is unknown.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	appErr := GetAppError(err)
	if appErr == nil {
		return true
	}
	return appErr.Fatal()
}
