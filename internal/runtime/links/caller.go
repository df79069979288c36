package links

import (
	"context"

	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/router"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/subscription"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

// CallerLink is a terminal link that dispatches straight into r with the
// context value c. Inputs and outputs are passed as Go values.
func CallerLink[C any](r *router.Router[C], c C) link.Link {
	caller := r.CreateCaller(c)
	return func(rt *link.Runtime) link.OperationLink {
		return func(call link.Call) {
			go callInProcess(call, caller)
		}
	}
}

func callInProcess[C any](call link.Call, caller *router.Caller[C]) {
	op := call.Op
	out, err := caller.Call(call.Context, op.Type, op.Path, op.Input)
	if err != nil {
		call.Prev(link.Result{Type: link.ResultError, Err: rpcerror.FromServer(err, op.Path)})
		return
	}

	sub, ok := out.(*subscription.Subscription)
	if op.Type != envelope.Subscription || !ok {
		call.Prev(link.DataResult(transformer.ValuePayload(out)))
		return
	}

	call.OnDestroy(sub.Stop)
	streamInProcess(call.Context, call.Prev, op.Path, sub)
}

func streamInProcess(ctx context.Context, prev link.PrevFunc, path string, sub *subscription.Subscription) {
	prev(link.Result{Type: link.ResultInit})
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			sub.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				prev(link.Result{Type: link.ResultStopped})
				return
			}
			if ev.Err != nil {
				prev(link.Result{Type: link.ResultError, Err: rpcerror.FromServer(ev.Err, path)})
				continue
			}
			prev(link.DataResult(transformer.ValuePayload(ev.Data)))
		}
	}
}
