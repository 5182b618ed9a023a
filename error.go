package dhttp

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Code is an error code that mirrors the http status codes. It can be used to create errors to pass around between
// hooks and handlers so the sender can map them to responses structurally.
type Code int

const (
	CodeUnknown             Code = 0
	CodeBadRequest          Code = http.StatusBadRequest          // RFC 9110, 15.5.1
	CodeUnauthorized        Code = http.StatusUnauthorized        // RFC 9110, 15.5.2
	CodeForbidden           Code = http.StatusForbidden           // RFC 9110, 15.5.4
	CodeNotFound            Code = http.StatusNotFound            // RFC 9110, 15.5.5
	CodeMethodNotAllowed    Code = http.StatusMethodNotAllowed    // RFC 9110, 15.5.6
	CodeRequestTimeout      Code = http.StatusRequestTimeout      // RFC 9110, 15.5.9
	CodeConflict            Code = http.StatusConflict            // RFC 9110, 15.5.10
	CodeGone                Code = http.StatusGone                // RFC 9110, 15.5.11
	CodeUnprocessableEntity Code = http.StatusUnprocessableEntity // RFC 9110, 15.5.21
	CodeTooManyRequests     Code = http.StatusTooManyRequests     // RFC 6585, 4

	CodeInternalServerError Code = http.StatusInternalServerError // RFC 9110, 15.6.1
	CodeNotImplemented      Code = http.StatusNotImplemented      // RFC 9110, 15.6.2
	CodeBadGateway          Code = http.StatusBadGateway          // RFC 9110, 15.6.3
	CodeServiceUnavailable  Code = http.StatusServiceUnavailable  // RFC 9110, 15.6.4
	CodeGatewayTimeout      Code = http.StatusGatewayTimeout      // RFC 9110, 15.6.5
)

// Kind classifies where in the request lifecycle an error originated.
type Kind int

const (
	KindUnknown    Kind = iota
	KindValidation      // malformed dispatcher setup, fatal at startup
	KindRouting         // matched target without a usable handler
	KindNotFound        // no route and no static file
	KindTimeout         // body-read deadline elapsed
	KindAbort           // external signal fired or socket closed
	KindHandler         // handler failed or returned an unusable value
)

// Error describes an http error with a lifecycle kind attached.
type Error struct {
	kind Kind
	code Code
	err  error
}

// NewError inits a new error given the error code.
func NewError(c Code, underlying error) *Error {
	return &Error{KindUnknown, c, underlying}
}

// NewValidationError reports malformed input to dispatcher setup.
func NewValidationError(format string, args ...any) *Error {
	return &Error{KindValidation, CodeInternalServerError, errors.Newf(format, args...)}
}

// NewRoutingError reports a matched route whose loaded target exposes no usable handler.
func NewRoutingError(pattern string, cause error) *Error {
	return &Error{KindRouting, CodeInternalServerError, errors.Wrapf(cause, "route %q", pattern)}
}

// NewNotFoundError reports that no route matched and no static file exists for the url.
func NewNotFoundError(url string) *Error {
	return &Error{KindNotFound, CodeNotFound, errors.Newf("no route or static file for %s", url)}
}

// NewTimeoutError reports an elapsed body-read deadline.
func NewTimeoutError(d time.Duration) *Error {
	return &Error{KindTimeout, CodeRequestTimeout, errors.Newf("no body read completed within %s", d)}
}

// NewAbortError reports cancellation from the socket or an external signal.
func NewAbortError(cause error) *Error {
	return &Error{KindAbort, CodeRequestTimeout, cause}
}

// NewHandlerError reports a handler failure. If the cause itself carries a code that code is kept.
func NewHandlerError(cause error) *Error {
	code := CodeOf(cause)
	if code == CodeUnknown {
		code = CodeInternalServerError
	}

	return &Error{KindHandler, code, cause}
}

func (e *Error) Code() Code    { return e.code }
func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Unwrap() error { return e.err }

func (e *Error) Error() string {
	status := http.StatusText(int(e.Code()))
	if status == "" {
		status = "Unknown"
	}

	if e.err == nil {
		return status
	}

	return fmt.Sprintf("%s: %s", status, e.err.Error())
}

// AggregateError collects multiple preprocessor failures in fan-out order.
type AggregateError struct {
	errs []error
}

// NewAggregateError inits an aggregate over the given errors, which must be in fan-out order.
func NewAggregateError(errs []error) *AggregateError {
	return &AggregateError{errs}
}

// Errors returns the collected failures in fan-out order.
func (e *AggregateError) Errors() []error { return e.errs }

// Unwrap exposes the collected failures to errors.Is/As.
func (e *AggregateError) Unwrap() []error { return e.errs }

func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, err := range e.errs {
		msgs[i] = err.Error()
	}

	return fmt.Sprintf("%d preprocessors failed: %s", len(e.errs), strings.Join(msgs, "; "))
}

// CodeOf returns the error's status code if it is or wraps an [*Error] and
// [CodeUnknown] otherwise.
func CodeOf(err error) Code {
	if herr, ok := asError(err); ok {
		return herr.Code()
	}
	return CodeUnknown
}

// KindOf returns the error's lifecycle kind if it is or wraps an [*Error] and
// [KindUnknown] otherwise.
func KindOf(err error) Kind {
	if herr, ok := asError(err); ok {
		return herr.Kind()
	}
	return KindUnknown
}

// asError uses errors.As to unwrap any error and look for a dhttp *Error.
func asError(err error) (*Error, bool) {
	var herr *Error
	ok := errors.As(err, &herr)
	return herr, ok
}
