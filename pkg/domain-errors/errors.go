// Package domainerrors provides coded errors so callers can branch on the
// kind of failure without string matching. Codes cross package boundaries;
// messages are for humans and logs.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeValidation         Code = "validation"
	CodeCorruption         Code = "corruption"
	CodeInvariantViolation Code = "invariant_violation"
	CodeConflict           Code = "conflict"
	CodeBadRequest         Code = "bad_request"
	CodeInternal           Code = "internal"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and context message to an underlying error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.As(e, &domainErr) && domainErr.Code == code {
			return true
		}
	}
	return false
}

// Is reports whether err's outermost domain error carries the given code.
// Unlike HasCode it does not look past the first coded error, so a
// CodeInternal wrap around a CodeNotFound cause is CodeInternal here.
func Is(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when err
// carries no domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
