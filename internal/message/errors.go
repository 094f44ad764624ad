package message

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failure crossing the bridge.
type Code string

const (
	CodeConstruction      Code = "ConstructionError"
	CodeNotOnOwningThread Code = "NotOnOwningThread"
	CodeNotFound          Code = "NotFound"
	CodeTimeout           Code = "Timeout"
	CodeCancelled         Code = "Cancelled"
	CodeDuplicateID       Code = "DuplicateId"
	CodeHandler           Code = "HandlerError"
	CodeInvalidRequest    Code = "InvalidRequest"
	CodeVetoed            Code = "Vetoed"
	CodeUnsupported       Code = "Unsupported"
	CodeWindowClosed      Code = "WindowClosed"
)

// Error is the structured error carried by responses and returned by the
// runtime. Two Errors match under errors.Is when their codes are equal and
// the target carries no message of its own.
type Error struct {
	Code    Code
	Message string
	Err     error
}

var (
	ErrConstruction      = &Error{Code: CodeConstruction}
	ErrNotOnOwningThread = &Error{Code: CodeNotOnOwningThread}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrCancelled         = &Error{Code: CodeCancelled}
	ErrDuplicateID       = &Error{Code: CodeDuplicateID}
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest}
	ErrVetoed            = &Error{Code: CodeVetoed}
	ErrUnsupported       = &Error{Code: CodeUnsupported}
	ErrWindowClosed      = &Error{Code: CodeWindowClosed}
)

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Abandoned wraps the error of a context that ended a wait: Timeout when
// its deadline passed, Cancelled otherwise.
func Abandoned(ctxErr error, format string, args ...any) *Error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, ctxErr, format, args...)
	}
	return Wrap(CodeCancelled, ctxErr, format, args...)
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// CodeOf returns the taxonomy code for err, HandlerError for foreign errors
// and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeHandler
}

// Info converts err into its wire form. Nil in, nil out.
func Info(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		return &ErrorInfo{Code: e.Code, Message: msg}
	}
	return &ErrorInfo{Code: CodeHandler, Message: err.Error()}
}

// ErrorInfo is the {code, message} pair carried in envelopes.
type ErrorInfo struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// Err turns the wire form back into an *Error so errors.Is works on it.
func (i *ErrorInfo) Err() error {
	if i == nil {
		return nil
	}
	return &Error{Code: i.Code, Message: i.Message}
}
