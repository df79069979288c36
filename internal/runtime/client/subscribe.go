package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// CancelFunc stops a subscription loop. No callback starts after it returns.
type CancelFunc func()

// SubscriptionOptions drives Subscribe.
type SubscriptionOptions[In, Out any] struct {
	Input In
	// OnData receives each batch of outputs.
	OnData func(out []Out)
	// OnError receives every failure. The loop stops after a done error.
	OnError func(err *rpcerror.ClientError)
	// NextInput derives the input of the next call from the last batch. Nil
	// keeps the current input.
	NextInput func(out []Out) In
}

// Subscribe repeatedly fetches path with SubscriptionOnce. Success resets the
// attempt counter, calls OnData and moves on to NextInput. Failure calls
// OnError, then either stops (done errors) or waits RetryDelay(attempt) and
// reissues the same input.
func Subscribe[In, Out any](ctx context.Context, c *Client, path string, opts SubscriptionOptions[In, Out]) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	loop := &subscriptionLoop{done: make(chan struct{})}

	go func() {
		defer close(loop.done)
		defer cancel()

		input := opts.Input
		attempt := 0
		for {
			out, err := SubscriptionOnce[Out](ctx, c, path, input)
			if ctx.Err() != nil {
				return
			}

			if err != nil {
				ce := rpcerror.From(err)
				if !loop.callback(func() {
					if opts.OnError != nil {
						opts.OnError(ce)
					}
				}) || ce.IsDone {
					return
				}

				attempt++
				wait := RetryDelay(c.retry, attempt)
				c.logger.Debug("Subscription failed, retrying", logging.LogFields{
					"path":     path,
					"attempt":  attempt,
					"delay_ms": wait.Milliseconds(),
					"code":     string(ce.Code),
				})
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				continue
			}

			attempt = 0
			if !loop.callback(func() {
				if opts.OnData != nil {
					opts.OnData(out)
				}
			}) {
				return
			}
			if opts.NextInput != nil {
				input = opts.NextInput(out)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			loop.stopped.Store(true)
			cancel()
		})
		if loop.inCallback.Load() {
			return
		}
		<-loop.done
	}
}

type subscriptionLoop struct {
	stopped    atomic.Bool
	inCallback atomic.Bool
	done       chan struct{}
}

// callback runs fn unless the loop was stopped and reports whether it ran.
// Cancelling from inside fn does not wait for the loop to exit.
func (l *subscriptionLoop) callback(fn func()) bool {
	l.inCallback.Store(true)
	defer l.inCallback.Store(false)
	if l.stopped.Load() {
		return false
	}
	fn()
	return !l.stopped.Load()
}
