package domain

import (
	"errors"
	"fmt"
	"maps"
)

// Code is a stable, machine-readable error identifier. Gateway and chat
// surfaces translate codes rather than matching on message text.
type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeDuplicateID         Code = "DUPLICATE_ID"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInactive            Code = "INACTIVE"
	CodeOverloaded          Code = "OVERLOADED"
	CodeTimeout             Code = "TIMEOUT"
	CodeExecutionFailed     Code = "EXECUTION_FAILED"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeNoPosition          Code = "NO_POSITION"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeTransferFailed      Code = "TRANSFER_FAILED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
)

// Attributes describes the default behaviour attached to a code.
type Attributes struct {
	Message   string
	Retryable bool
}

var attributes = map[Code]Attributes{
	CodeUnknown:             {Message: "unknown error"},
	CodeInvalidArgument:     {Message: "invalid argument"},
	CodeDuplicateID:         {Message: "id already registered"},
	CodeNotFound:            {Message: "agent not found"},
	CodeInactive:            {Message: "agent is paused"},
	CodeOverloaded:          {Message: "execution capacity reached", Retryable: true},
	CodeTimeout:             {Message: "execution timed out", Retryable: true},
	CodeExecutionFailed:     {Message: "execution failed"},
	CodeValidationFailed:    {Message: "validation failed"},
	CodeInvalidAmount:       {Message: "amount must be greater than zero"},
	CodeNoPosition:          {Message: "no investment position"},
	CodeInsufficientBalance: {Message: "insufficient balance"},
	CodeTransferFailed:      {Message: "transfer failed", Retryable: true},
	CodeRateLimited:         {Message: "rate limit exceeded", Retryable: true},
	CodeStorageFailure:      {Message: "storage failure", Retryable: true},
	CodePermissionDenied:    {Message: "permission denied"},
}

// AttributesOf returns the attributes registered for a code, falling back
// to CodeUnknown.
func AttributesOf(code Code) Attributes {
	if attr, ok := attributes[code]; ok {
		return attr
	}
	return attributes[CodeUnknown]
}

// Sentinels for errors.Is. Matching is by code, so any *Error carrying the
// same code satisfies errors.Is(err, ErrX) regardless of message.
var (
	ErrDuplicateID         = &Error{Code: CodeDuplicateID}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrInactive            = &Error{Code: CodeInactive}
	ErrOverloaded          = &Error{Code: CodeOverloaded}
	ErrTimeout             = &Error{Code: CodeTimeout}
	ErrValidationFailed    = &Error{Code: CodeValidationFailed}
	ErrInvalidAmount       = &Error{Code: CodeInvalidAmount}
	ErrNoPosition          = &Error{Code: CodeNoPosition}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrTransferFailed      = &Error{Code: CodeTransferFailed}
	ErrRateLimited         = &Error{Code: CodeRateLimited}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument}
	ErrExecutionFailed     = &Error{Code: CodeExecutionFailed}
	ErrStorageFailure      = &Error{Code: CodeStorageFailure}
	ErrPermissionDenied    = &Error{Code: CodePermissionDenied}
)

// Error is the coded error type shared by every core component.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Fields  map[string]any
}

// Errorf creates a coded error with a formatted message. An empty format
// uses the code's default message.
func Errorf(code Code, format string, args ...any) *Error {
	msg := AttributesOf(code).Message
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code to an existing error.
func Wrap(code Code, cause error, message string) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// With returns a copy of e carrying an extra structured field.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	maps.Copy(cp.Fields, e.Fields)
	cp.Fields[key] = value
	return &cp
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = AttributesOf(e.Code).Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	return AttributesOf(e.Code).Retryable
}

// CodeOf extracts the code from err, or CodeUnknown if err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
