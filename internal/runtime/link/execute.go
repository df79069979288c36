package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/observable"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

// ObservableOperation is an executing operation.
type ObservableOperation struct {
	subject *observable.Subject[Result]
	cancel  context.CancelFunc
	closing atomic.Bool

	mu        sync.Mutex
	destroyed bool
	destroy   []func()
	doneOnce  sync.Once
}

// Subscribe attaches callbacks. Error results arrive at OnError as
// *rpcerror.ClientError; every other result at OnNext.
func (o *ObservableOperation) Subscribe(cb observable.Callbacks[Result]) (unsubscribe func()) {
	return o.subject.Subscribe(cb)
}

// Get peeks at the most recent non-error result.
func (o *ObservableOperation) Get() (Result, bool) {
	return o.subject.Get()
}

// Done cancels the operation, runs every OnDestroy handler once and fires
// OnDone. Results emitted once Done has been called are dropped, including
// errors links raise because of the cancellation. Calling it again does
// nothing.
func (o *ObservableOperation) Done() {
	o.doneOnce.Do(func() {
		o.closing.Store(true)
		o.cancel()

		o.mu.Lock()
		o.destroyed = true
		handlers := o.destroy
		o.destroy = nil
		o.mu.Unlock()

		for _, fn := range handlers {
			fn()
		}
		o.subject.Done()
	})
}

func (o *ObservableOperation) onDestroy(fn func()) {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		fn()
		return
	}
	o.destroy = append(o.destroy, fn)
	o.mu.Unlock()
}

func (o *ObservableOperation) emit(res Result) {
	if o.closing.Load() {
		return
	}
	if res.Type == ResultError {
		if res.Err == nil {
			res.Err = rpcerror.From(errors.New("error result without error"))
		}
		o.subject.Error(res.Err)
		return
	}
	o.subject.Next(res)
}

// Execute composes links right to left, so links[0] sees the operation first
// and the last link is terminal, then starts op. ctx bounds the operation.
func Execute(ctx context.Context, links []OperationLink, op Operation) *ObservableOperation {
	callCtx, cancel := context.WithCancel(ctx)
	obs := &ObservableOperation{
		subject: observable.New[Result](),
		cancel:  cancel,
	}

	chain{links: links, ctx: callCtx, onDestroy: obs.onDestroy}.run(0, op, obs.emit)
	return obs
}

// Forward runs links as a nested chain of c. The first link sees c.Op and the
// results flow to c.Prev. SplitLink uses it.
func Forward(c Call, links []OperationLink) {
	chain{links: links, ctx: c.Context, onDestroy: c.onDestroy}.run(0, c.Op, c.Prev)
}

// Bind binds every link to rt.
func Bind(rt *Runtime, links []Link) []OperationLink {
	bound := make([]OperationLink, 0, len(links))
	for _, l := range links {
		bound = append(bound, l(rt))
	}
	return bound
}

type chain struct {
	links     []OperationLink
	ctx       context.Context
	onDestroy func(func())
}

func (ch chain) run(index int, op Operation, prev PrevFunc) {
	if index >= len(ch.links) {
		prev(ErrorResult(errNoTerminalLink, rpcerror.WithDone(true)))
		return
	}
	call := Call{
		Op:        op,
		Prev:      prev,
		Context:   ch.ctx,
		onDestroy: ch.onDestroy,
	}
	if index+1 < len(ch.links) {
		call.next = func(nextOp Operation, nextPrev PrevFunc) {
			ch.run(index+1, nextOp, nextPrev)
		}
	}
	ch.links[index](call)
}

// TransformResponse turns a response envelope into a Result, decoding data
// and error data with the runtime's output transformer. opts supply the
// defaults for error envelopes, such as WithDone.
func TransformResponse(resp envelope.Response, rt *Runtime, opts ...rpcerror.FromOption) Result {
	var pair transformer.Pair
	if rt != nil {
		pair = rt.Transformer
	}
	output := pair.WithDefaults().Output

	if resp.Error != nil {
		ce := rpcerror.FromShape(*resp.Error, opts...)
		if len(resp.Error.Data) > 0 {
			var data any
			if err := output.Deserialize(resp.Error.Data, &data); err == nil {
				ce.Data = data
			}
		}
		return Result{Type: ResultError, Err: ce}
	}

	if resp.Result == nil {
		return ErrorResult(fmt.Errorf("malformed response envelope %q: no result or error", resp.ID), rpcerror.WithDone(true))
	}

	switch resp.Result.Type {
	case envelope.ResultData:
		return DataResult(transformer.RawPayload(resp.Result.Data, output))
	default:
		return Result{Type: resp.Result.Type}
	}
}
