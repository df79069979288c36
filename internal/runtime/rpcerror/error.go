// Package rpcerror holds the error model shared by the server and the client:
// symbolic codes, the wire shape, the server-side Error with its factories and
// the ClientError every caller receives.
package rpcerror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
)

// Shape is the error part of a response envelope. Causes never cross the wire.
type Shape struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Path    string          `json:"path,omitempty"`
	Status  int             `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error is a classified server-side error.
type Error struct {
	Code    Code
	Message string
	// Status overrides Code.HTTPStatus when set. HTTPError uses it.
	Status int
	// Data is serialized into Shape.Data.
	Data  any
	cause error
}

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrParse              = &Error{Code: CodeParseError, Message: "parse error"}
	ErrBadRequest         = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrBadUserInput       = &Error{Code: CodeBadUserInput, Message: "bad user input"}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "unauthenticated"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrMethodNotSupported = &Error{Code: CodeMethodNotSupported, Message: "method not supported"}
	ErrTimeout            = &Error{Code: CodeTimeout, Message: "timeout"}
	ErrPayloadTooLarge    = &Error{Code: CodePayloadTooLarge, Message: "payload too large"}
	ErrClientClosed       = &Error{Code: CodeClientClosedRequest, Message: "client closed request"}
	ErrInternal           = &Error{Code: CodeInternalServerError, Message: "internal server error"}
	ErrHTTP               = &Error{Code: CodeHTTPError, Message: "http error"}
)

// New builds a classified error. cause stays local.
func New(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus is the status the server answers with.
func (e *Error) HTTPStatus() int {
	if e.Status > 0 {
		return e.Status
	}
	return e.Code.HTTPStatus()
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// Shape renders the wire form of e for the procedure at path.
func (e *Error) Shape(path string) Shape {
	shape := Shape{
		Code:    e.Code,
		Message: e.Message,
		Path:    path,
		Status:  e.HTTPStatus(),
	}
	if e.Data != nil {
		if raw, err := jsoncodec.Raw(e.Data); err == nil {
			shape.Data = raw
		}
	}
	return shape
}

func NotFound(msg string) *Error {
	return New(CodeNotFound, msg, nil)
}

func Forbidden(msg string) *Error {
	return New(CodeForbidden, msg, nil)
}

func Unauthenticated(msg string) *Error {
	return New(CodeUnauthenticated, msg, nil)
}

func Timeout(msg string) *Error {
	return New(CodeTimeout, msg, nil)
}

func BadRequest(msg string) *Error {
	return New(CodeBadRequest, msg, nil)
}

// InputValidation reports input that the procedure's parser rejected.
func InputValidation(cause error) *Error {
	msg := "input validation failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return New(CodeBadUserInput, msg, cause)
}

// HTTPError carries an explicit transport status. An empty message becomes
// the status text.
func HTTPError(status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := New(CodeHTTPError, msg, nil)
	e.Status = status
	return e
}

func HTTPUnauthorized() *Error {
	return HTTPError(http.StatusUnauthorized, "")
}

func HTTPForbidden() *Error {
	return HTTPError(http.StatusForbidden, "")
}

func HTTPNotFound() *Error {
	return HTTPError(http.StatusNotFound, "")
}

func HTTPBadRequest() *Error {
	return HTTPError(http.StatusBadRequest, "")
}

func HTTPRequestTimeout() *Error {
	return HTTPError(http.StatusRequestTimeout, "")
}

// Classify turns anything a resolver or middleware returned into an *Error.
// It runs once, at the dispatch boundary.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(CodeTimeout, err.Error(), err)
	case errors.Is(err, context.Canceled):
		return New(CodeClientClosedRequest, err.Error(), err)
	default:
		return New(CodeInternalServerError, err.Error(), err)
	}
}

// MessageFromUnknown extracts a message from a recovered panic value.
func MessageFromUnknown(v any, fallback string) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fallback
	}
}
