// Package link composes client-side links into an executing operation.
//
// A link receives a Call, may rewrite the operation, and forwards it with
// Call.Next. Results travel back through the prev callbacks. The last link
// is the terminal one and talks to the transport.
package link

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

// OperationContext carries link-local values along an operation.
type OperationContext map[string]any

// Operation is one attempt of a call.
type Operation struct {
	ID      string
	Type    envelope.ProcedureType
	Path    string
	Input   any
	Context OperationContext
}

// ResultType tags a Result. ResultError never appears on the wire.
type ResultType = envelope.ResultType

const (
	ResultData    = envelope.ResultData
	ResultInit    = envelope.ResultInit
	ResultStopped = envelope.ResultStopped
	ResultError   ResultType = "error"
)

type Result struct {
	Type ResultType
	Data transformer.Payload
	Err  *rpcerror.ClientError
}

// DataResult wraps a payload.
func DataResult(p transformer.Payload) Result {
	return Result{Type: ResultData, Data: p}
}

// ErrorResult normalizes err.
func ErrorResult(err error, opts ...rpcerror.FromOption) Result {
	return Result{Type: ResultError, Err: rpcerror.From(err, opts...)}
}

// HeadersFunc produces the headers sent with each request.
type HeadersFunc func(ctx context.Context) metadata.Metadata

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Runtime is shared by every link of a client.
type Runtime struct {
	Transformer transformer.Pair
	Headers     HeadersFunc
	HTTPClient  Doer
	Dialer      Dialer
	Logger      logging.ServiceLogger
}

// WithDefaults fills every unset field.
func (rt Runtime) WithDefaults() *Runtime {
	rt.Transformer = rt.Transformer.WithDefaults()
	if rt.Headers == nil {
		rt.Headers = func(context.Context) metadata.Metadata { return metadata.Metadata{} }
	}
	if rt.HTTPClient == nil {
		rt.HTTPClient = &http.Client{}
	}
	if rt.Dialer == nil {
		rt.Dialer = websocket.DefaultDialer
	}
	rt.Logger = logging.OrNop(rt.Logger)
	return &rt
}

// PrevFunc receives results flowing back towards the caller.
type PrevFunc func(Result)

// Call is what one link sees of an executing operation.
type Call struct {
	Op   Operation
	Prev PrevFunc
	// Context is cancelled when the operation is done.
	Context context.Context

	next      func(Operation, PrevFunc)
	onDestroy func(func())
}

var errNoTerminalLink = errors.New("link chain ended without a terminal link")

// Next forwards op to the rest of the chain. Its results arrive at prev.
func (c Call) Next(op Operation, prev PrevFunc) {
	if c.next == nil {
		prev(ErrorResult(errNoTerminalLink, rpcerror.WithDone(true)))
		return
	}
	c.next(op, prev)
}

// OnDestroy registers fn to run once when the operation is done.
func (c Call) OnDestroy(fn func()) {
	if c.onDestroy != nil {
		c.onDestroy(fn)
	}
}

// OperationLink handles one operation.
type OperationLink func(Call)

// Link is bound to a runtime once, when the client is built.
type Link func(rt *Runtime) OperationLink
