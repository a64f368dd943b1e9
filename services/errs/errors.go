// Package errs holds the error taxonomy shared by the sampling services.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable failure kind.
type Code string

const (
	CodeInternal        Code = "INTERNAL"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeEmptySource     Code = "EMPTY_SOURCE"
	CodeNoData          Code = "NO_DATA"
	CodeCanceled        Code = "CANCELED"
	CodeDeadline        Code = "DEADLINE_EXCEEDED"
)

// StatusClientClosedRequest is the non-standard status answered when the
// caller went away before the response was ready.
const StatusClientClosedRequest = 499

// HTTPStatus maps a code onto the status the HTTP API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeEmptySource, CodeNoData:
		return http.StatusUnprocessableEntity
	case CodeCanceled:
		return StatusClientClosedRequest
	case CodeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps a code onto a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeEmptySource, CodeNoData:
		return codes.FailedPrecondition
	case CodeCanceled:
		return codes.Canceled
	case CodeDeadline:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// Error is a coded failure with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrEmptySource     = &Error{Code: CodeEmptySource, Message: "empty source"}
	ErrNoData          = &Error{Code: CodeNoData, Message: "no data"}
)

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code of the first coded error in err's chain. Context
// cancellation and deadlines anywhere in the chain take precedence; other
// uncoded errors report CodeInternal.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadline
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
