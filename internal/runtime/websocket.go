package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/subscription"
)

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("WebSocket upgrade failed", logging.LogFields{"error": err.Error()})
		return
	}
	newWSSession(s, conn, r).serve()
}

// wsSession multiplexes calls over one connection. Subscriptions are keyed by
// envelope id.
type wsSession struct {
	s    *Service
	conn *websocket.Conn
	req  *http.Request

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newWSSession(s *Service, conn *websocket.Conn, r *http.Request) *wsSession {
	ctx, cancel := context.WithCancel(r.Context())
	return &wsSession{
		s:      s,
		conn:   conn,
		req:    r,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]context.CancelFunc),
	}
}

func (ws *wsSession) serve() {
	defer func() {
		ws.cancel()
		ws.wg.Wait()
		_ = ws.conn.Close()
	}()

	ws.conn.SetReadLimit(ws.s.Conf.MaxBodyBytes)
	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.s.Logger.Debug("WebSocket connection closed", logging.LogFields{"error": err.Error()})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ws.handleFrame(data)
	}
}

func (ws *wsSession) handleFrame(data []byte) {
	call := &Call{Request: ws.req, Transport: TransportWebSocket}

	var req envelope.Request
	if err := jsoncodec.Unmarshal(data, &req); err != nil {
		ws.writeError(call, ws.s.fail(ws.ctx, call, rpcerror.New(rpcerror.CodeParseError, "malformed request envelope", err)))
		return
	}
	if req.Method == envelope.MethodSubscriptionStop {
		ws.stop(req.ID)
		return
	}
	if rpcErr := fillCall(call, req); rpcErr != nil {
		ws.writeError(call, ws.s.fail(ws.ctx, call, rpcErr))
		return
	}

	if call.Type != envelope.Subscription {
		ws.wg.Add(1)
		go func() {
			defer ws.wg.Done()
			ws.resolve(call)
		}()
		return
	}

	subCtx, cancel := context.WithCancel(ws.ctx)
	ws.mu.Lock()
	if _, dup := ws.subs[call.ID]; dup {
		ws.mu.Unlock()
		cancel()
		ws.writeError(call, ws.s.fail(ws.ctx, call, rpcerror.BadRequest(fmt.Sprintf("duplicate subscription id %q", call.ID))))
		return
	}
	ws.subs[call.ID] = cancel
	ws.mu.Unlock()

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		defer ws.release(call.ID)
		ws.stream(subCtx, call)
	}()
}

func (ws *wsSession) resolve(call *Call) {
	out, err := ws.s.dispatch(ws.ctx, call)
	if err != nil {
		ws.writeError(call, ws.s.fail(ws.ctx, call, err))
		return
	}
	data, err := ws.s.transformer.Output.Serialize(out)
	if err != nil {
		ws.writeError(call, ws.s.fail(ws.ctx, call, fmt.Errorf("failed to serialize output: %w", err)))
		return
	}
	ws.write(envelope.DataResponse(call.ID, data))
}

// stream sends init, one data frame per output and stopped once the source
// ends or the client stops it. An error frame ends the subscription.
func (ws *wsSession) stream(ctx context.Context, call *Call) {
	out, err := ws.s.dispatch(ctx, call)
	if err != nil {
		ws.writeError(call, ws.s.fail(ctx, call, err))
		return
	}
	sub, ok := out.(*subscription.Subscription)
	if !ok {
		ws.writeError(call, ws.s.fail(ctx, call, fmt.Errorf("%w, got %T", errspkg.ErrNotSubscription, out)))
		return
	}
	defer sub.Stop()

	if ws.s.metrics != nil {
		defer ws.s.metrics.SubscriptionOpened(call.Path)()
	}

	ws.write(envelope.ControlResponse(call.ID, envelope.ResultInit))
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			sub.Stop()
			if ws.ctx.Err() == nil {
				ws.write(envelope.ControlResponse(call.ID, envelope.ResultStopped))
			}
			return
		case ev, ok := <-events:
			if !ok {
				ws.write(envelope.ControlResponse(call.ID, envelope.ResultStopped))
				return
			}
			if ev.Err != nil {
				ws.writeError(call, ws.s.fail(ctx, call, ev.Err))
				return
			}
			data, err := ws.s.transformer.Output.Serialize(ev.Data)
			if err != nil {
				ws.writeError(call, ws.s.fail(ctx, call, fmt.Errorf("failed to serialize output: %w", err)))
				return
			}
			ws.write(envelope.DataResponse(call.ID, data))
		}
	}
}

func (ws *wsSession) stop(id string) {
	ws.mu.Lock()
	cancel, ok := ws.subs[id]
	ws.mu.Unlock()
	if ok {
		cancel()
	}
}

func (ws *wsSession) release(id string) {
	ws.mu.Lock()
	cancel, ok := ws.subs[id]
	delete(ws.subs, id)
	ws.mu.Unlock()
	if ok {
		cancel()
	}
}

func (ws *wsSession) writeError(call *Call, rpcErr *rpcerror.Error) {
	ws.write(envelope.ErrorResponse(call.ID, rpcErr.Shape(call.Path)))
}

func (ws *wsSession) write(resp envelope.Response) {
	data, err := jsoncodec.Marshal(resp)
	if err != nil {
		ws.s.Logger.Error("Failed to encode response envelope", err, logging.LogFields{"id": resp.ID})
		return
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.s.Logger.Debug("WebSocket write failed", logging.LogFields{"id": resp.ID, "error": err.Error()})
	}
}
