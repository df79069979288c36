package links

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/ids"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// WebSocketLinkOptions configures a WebSocket connection.
type WebSocketLinkOptions struct {
	// URL is the server's WebSocket endpoint, for example ws://localhost:8080/rpc/ws.
	URL string
}

type pendingOp struct {
	typ  envelope.ProcedureType
	prev link.PrevFunc
}

// WebSocketClient multiplexes operations over one lazily dialled connection.
type WebSocketClient struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]*pendingOp
	closed  bool

	writeMu sync.Mutex
}

func NewWebSocketClient(opts WebSocketLinkOptions) *WebSocketClient {
	return &WebSocketClient{
		url:     opts.URL,
		pending: make(map[string]*pendingOp),
	}
}

// WebSocketLink is a terminal link with its own connection.
func WebSocketLink(opts WebSocketLinkOptions) link.Link {
	return NewWebSocketClient(opts).Link()
}

// Link returns the terminal link bound to this connection.
func (w *WebSocketClient) Link() link.Link {
	return func(rt *link.Runtime) link.OperationLink {
		return func(c link.Call) {
			op := c.Op
			if op.ID == "" {
				op.ID = ids.CreateULID()
			}
			c.OnDestroy(func() { w.release(op) })
			go w.start(c, rt, op)
		}
	}
}

// Close drops the connection and fails every pending operation.
func (w *WebSocketClient) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (w *WebSocketClient) start(c link.Call, rt *link.Runtime, op link.Operation) {
	req, err := NewRequestEnvelope(rt, op)
	if err != nil {
		c.Prev(link.ErrorResult(err, rpcerror.WithDone(true)))
		return
	}

	conn, err := w.connect(c, rt)
	if err != nil {
		c.Prev(link.ErrorResult(err, rpcerror.WithDone(true)))
		return
	}

	w.mu.Lock()
	if c.Context.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.pending[op.ID] = &pendingOp{typ: op.Type, prev: c.Prev}
	w.mu.Unlock()

	if err := w.write(conn, req); err != nil {
		w.mu.Lock()
		delete(w.pending, op.ID)
		w.mu.Unlock()
		c.Prev(link.ErrorResult(err, rpcerror.WithDone(true)))
	}
}

func (w *WebSocketClient) connect(c link.Call, rt *link.Runtime) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errspkg.ErrConnectionClosed
	}
	if w.conn != nil {
		return w.conn, nil
	}

	header := http.Header{}
	rt.Headers(c.Context).ApplyTo(header)
	conn, _, err := rt.Dialer.DialContext(c.Context, w.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.conn = conn
	rt.Logger.Debug("WebSocket connected", logging.LogFields{"url": w.url})
	go w.readLoop(conn, rt)
	return conn, nil
}

func (w *WebSocketClient) write(conn *websocket.Conn, v any) error {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocketClient) readLoop(conn *websocket.Conn, rt *link.Runtime) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.fail(conn, rt, err)
			return
		}

		var env envelope.Response
		if err := jsoncodec.Unmarshal(data, &env); err != nil {
			rt.Logger.Error("Dropping malformed WebSocket frame", err, nil)
			continue
		}

		w.mu.Lock()
		p, ok := w.pending[env.ID]
		if ok && isFinal(p.typ, env) {
			delete(w.pending, env.ID)
		}
		w.mu.Unlock()
		if !ok {
			continue
		}
		p.prev(link.TransformResponse(env, rt))
	}
}

// isFinal reports whether no further frames will follow for the operation.
func isFinal(typ envelope.ProcedureType, env envelope.Response) bool {
	if env.Error != nil || env.Result == nil {
		return true
	}
	if typ != envelope.Subscription {
		return true
	}
	return env.Result.Type == envelope.ResultStopped
}

func (w *WebSocketClient) fail(conn *websocket.Conn, rt *link.Runtime, cause error) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	pending := w.pending
	w.pending = make(map[string]*pendingOp)
	w.mu.Unlock()

	_ = conn.Close()
	if len(pending) > 0 {
		rt.Logger.Info("WebSocket connection lost", logging.LogFields{"url": w.url, "pending": len(pending)})
	}
	for _, p := range pending {
		p.prev(link.ErrorResult(fmt.Errorf("%w: %v", errspkg.ErrConnectionClosed, cause), rpcerror.WithDone(true)))
	}
}

// release forgets op and asks the server to stop it when it is a running
// subscription.
func (w *WebSocketClient) release(op link.Operation) {
	w.mu.Lock()
	p, ok := w.pending[op.ID]
	delete(w.pending, op.ID)
	conn := w.conn
	w.mu.Unlock()

	if !ok || conn == nil || p.typ != envelope.Subscription {
		return
	}
	_ = w.write(conn, envelope.Request{ID: op.ID, Method: envelope.MethodSubscriptionStop})
}
