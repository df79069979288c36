// Package subscription is the server-side stream a subscription resolver
// returns.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// DefaultBufferSize is how many events a stream holds before Data blocks.
const DefaultBufferSize = 64

// Event is one item of a stream: data, or an error that ends it.
type Event struct {
	Data any
	Err  error
}

// Emitter pushes events from inside a start function.
type Emitter interface {
	// Data reports false once the stream has been stopped.
	Data(v any) bool
	// Error pushes err and ends the stream.
	Error(err error)
}

// Subscription runs its start function in its own goroutine on first use.
type Subscription struct {
	start  func(ctx context.Context, emit Emitter) error
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	finished bool
	onStop   []func()

	sendMu     sync.RWMutex
	closed     bool
	finishOnce sync.Once
}

// New wraps start. Returning from start ends the stream; a non-nil error is
// delivered as the last event.
func New(start func(ctx context.Context, emit Emitter) error) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		start:  start,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, DefaultBufferSize),
		done:   make(chan struct{}),
	}
}

// Events starts the stream if needed. The channel closes when it ends.
func (s *Subscription) Events() <-chan Event {
	s.ensureStarted()
	return s.events
}

// Done closes once the stream has ended and its stop hooks ran.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the stream. Calling it again is a no-op.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if !started {
		s.finish()
	}
}

// OnStop registers fn to run once the stream ends. fn runs immediately when
// it already has.
func (s *Subscription) OnStop(fn func()) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		fn()
		return
	}
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

// OnceOutputAndStop waits up to timeout for the first output, collects what
// is already buffered behind it and stops the stream. It fails with TIMEOUT
// when nothing arrives in time.
func (s *Subscription) OnceOutputAndStop(ctx context.Context, timeout time.Duration) ([]any, error) {
	defer s.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	events := s.Events()
	var first Event
	select {
	case ev, ok := <-events:
		if !ok {
			return []any{}, nil
		}
		first = ev
	case <-timer.C:
		return nil, rpcerror.Timeout("subscription produced no output before the timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if first.Err != nil {
		return nil, first.Err
	}

	outputs := []any{first.Data}
	for {
		select {
		case ev, ok := <-events:
			if !ok || ev.Err != nil {
				return outputs, nil
			}
			outputs = append(outputs, ev.Data)
		default:
			return outputs, nil
		}
	}
}

func (s *Subscription) ensureStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

func (s *Subscription) run() {
	defer s.finish()

	emit := emitter{s: s}
	err := s.safeStart(emit)
	if err != nil && s.ctx.Err() == nil {
		s.push(Event{Err: err})
	}
}

func (s *Subscription) safeStart(emit Emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rpcerror.New(rpcerror.CodeInternalServerError, rpcerror.MessageFromUnknown(r, "subscription panicked"), nil)
		}
	}()
	return s.start(s.ctx, emit)
}

func (s *Subscription) push(ev Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Subscription) finish() {
	s.finishOnce.Do(func() {
		s.cancel()

		s.sendMu.Lock()
		s.closed = true
		close(s.events)
		s.sendMu.Unlock()

		s.mu.Lock()
		s.finished = true
		hooks := s.onStop
		s.onStop = nil
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		close(s.done)
	})
}

type emitter struct {
	s *Subscription
}

func (e emitter) Data(v any) bool {
	return e.s.push(Event{Data: v})
}

func (e emitter) Error(err error) {
	e.s.push(Event{Err: err})
	e.s.cancel()
}

// FromMessages adapts a watermill subscription channel. Every message is
// acked; undecodable ones are dropped so brokers do not redeliver them. The
// stream ends when ctx ends or msgs closes.
func FromMessages(ctx context.Context, msgs <-chan *message.Message, decode func(*message.Message) (any, error)) *Subscription {
	return New(func(subCtx context.Context, emit Emitter) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-subCtx.Done():
				return nil
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				v, err := decode(msg)
				msg.Ack()
				if err != nil {
					continue
				}
				if !emit.Data(v) {
					return nil
				}
			}
		}
	})
}
