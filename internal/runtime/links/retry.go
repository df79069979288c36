package links

import (
	"time"

	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/retry"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// RetryLinkConfig configures RetryLink.
type RetryLinkConfig struct {
	Policy retry.Config
	// RetryIf decides whether a failed attempt is re-issued. The default
	// retries every error not marked done.
	RetryIf func(op link.Operation, err *rpcerror.ClientError, attempt int) bool
	// Delay overrides the backoff policy.
	Delay func(attempt int) time.Duration
}

// RetryLink re-issues failed queries up to Policy.MaxRetries times.
// Mutations and subscriptions pass straight through.
func RetryLink(cfg RetryLinkConfig) link.Link {
	policy := cfg.Policy.WithDefaults()
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = func(_ link.Operation, err *rpcerror.ClientError, _ int) bool {
			return !err.IsDone
		}
	}
	delay := cfg.Delay
	if delay == nil {
		delay = func(attempt int) time.Duration { return retry.Delay(policy, attempt) }
	}

	return func(rt *link.Runtime) link.OperationLink {
		return func(c link.Call) {
			if c.Op.Type != envelope.Query {
				c.Next(c.Op, c.Prev)
				return
			}

			var attempt func(n int)
			attempt = func(n int) {
				c.Next(c.Op, func(res link.Result) {
					if res.Type != link.ResultError || n >= policy.MaxRetries || !retryIf(c.Op, res.Err, n+1) {
						c.Prev(res)
						return
					}
					wait := delay(n + 1)
					rt.Logger.Debug("Retrying query", logging.LogFields{
						"path":     c.Op.Path,
						"attempt":  n + 1,
						"delay_ms": wait.Milliseconds(),
						"code":     string(res.Err.Code),
					})
					timer := time.AfterFunc(wait, func() {
						if c.Context.Err() == nil {
							attempt(n + 1)
						}
					})
					c.OnDestroy(func() { timer.Stop() })
				})
			}
			attempt(0)
		}
	}
}
