// Package envelope defines the JSON messages exchanged between a client link
// and the server, over HTTP and over WebSocket.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// ProcedureType is the call kind.
type ProcedureType string

const (
	Query        ProcedureType = "query"
	Mutation     ProcedureType = "mutation"
	Subscription ProcedureType = "subscription"
)

// MethodSubscriptionStop cancels a running WebSocket subscription.
const MethodSubscriptionStop = "subscription.stop"

// ParseProcedureType accepts the three call kinds.
func ParseProcedureType(s string) (ProcedureType, error) {
	switch t := ProcedureType(s); t {
	case Query, Mutation, Subscription:
		return t, nil
	default:
		return "", fmt.Errorf("unknown procedure type %q", s)
	}
}

func (t ProcedureType) Valid() bool {
	_, err := ParseProcedureType(string(t))
	return err == nil
}

func (t ProcedureType) String() string {
	return string(t)
}

// ResultType tags a successful response.
type ResultType string

const (
	ResultData    ResultType = "data"
	ResultInit    ResultType = "init"
	ResultStopped ResultType = "stopped"
)

type Params struct {
	Path  string          `json:"path"`
	Input json.RawMessage `json:"input,omitempty"`
}

type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params Params `json:"params"`
}

type Result struct {
	Type ResultType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response carries either Result or Error, never both.
type Response struct {
	ID     string          `json:"id"`
	Result *Result         `json:"result,omitempty"`
	Error  *rpcerror.Shape `json:"error,omitempty"`
}

// DataResponse wraps a serialized payload.
func DataResponse(id string, data json.RawMessage) Response {
	return Response{ID: id, Result: &Result{Type: ResultData, Data: data}}
}

// ControlResponse carries init or stopped.
func ControlResponse(id string, typ ResultType) Response {
	return Response{ID: id, Result: &Result{Type: typ}}
}

func ErrorResponse(id string, shape rpcerror.Shape) Response {
	return Response{ID: id, Error: &shape}
}

// IsError reports whether r carries an error shape.
func (r Response) IsError() bool {
	return r.Error != nil
}
