package rpcerror

import "net/http"

// Code is the symbolic error code carried in every error envelope.
type Code string

const (
	CodeParseError          Code = "PARSE_ERROR"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeBadUserInput        Code = "BAD_USER_INPUT"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeMethodNotSupported  Code = "METHOD_NOT_SUPPORTED"
	CodeTimeout             Code = "TIMEOUT"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeClientClosedRequest Code = "CLIENT_CLOSED_REQUEST"
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
	CodeHTTPError           Code = "HTTP_ERROR"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before the server answered.
const StatusClientClosedRequest = 499

var statusByCode = map[Code]int{
	CodeParseError:          http.StatusBadRequest,
	CodeBadRequest:          http.StatusBadRequest,
	CodeBadUserInput:        http.StatusBadRequest,
	CodeUnauthenticated:     http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeMethodNotSupported:  http.StatusMethodNotAllowed,
	CodeTimeout:             http.StatusRequestTimeout,
	CodePayloadTooLarge:     http.StatusRequestEntityTooLarge,
	CodeClientClosedRequest: StatusClientClosedRequest,
	CodeInternalServerError: http.StatusInternalServerError,
	CodeHTTPError:           http.StatusInternalServerError,
}

// HTTPStatus maps the code onto a transport status. HTTP_ERROR carries its own
// status on the error value; 500 is only its fallback.
func (c Code) HTTPStatus() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Valid reports whether c belongs to the known code set.
func (c Code) Valid() bool {
	_, ok := statusByCode[c]
	return ok
}

func (c Code) String() string {
	return string(c)
}
