package runtime

import (
	"context"
	"time"

	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
)

// CallContext describes one procedure call to hooks.
type CallContext struct {
	// ID is the envelope id sent by the client.
	ID        string
	Type      procedure.Type
	Path      string
	Transport string
	Metadata  metadata.Metadata
	Context   context.Context
	StartedAt time.Time
	// Duration is only set for OnCallSuccess and OnCallError.
	Duration time.Duration
}

// CallHooks observes the call lifecycle. Nil hooks are skipped.
type CallHooks struct {
	OnCallStart   func(ctx CallContext)
	OnCallSuccess func(ctx CallContext)
	OnCallError   func(ctx CallContext, err error)
}

// IsZero reports whether no hook is set.
func (h CallHooks) IsZero() bool {
	return h.OnCallStart == nil && h.OnCallSuccess == nil && h.OnCallError == nil
}

// Merge returns hooks that run h first and then other.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart:   chainHooks(h.OnCallStart, other.OnCallStart),
		OnCallSuccess: chainHooks(h.OnCallSuccess, other.OnCallSuccess),
		OnCallError:   chainErrorHooks(h.OnCallError, other.OnCallError),
	}
}

// MergeCallHooks folds hooks left to right.
func MergeCallHooks(hooks ...CallHooks) CallHooks {
	var merged CallHooks
	for _, h := range hooks {
		merged = merged.Merge(h)
	}
	return merged
}

func chainHooks[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

func chainErrorHooks(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// CallHooksMiddleware runs hooks around every dispatch.
func CallHooksMiddleware(hooks CallHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "call_hooks",
		Middleware: callHooksMiddleware(hooks),
	}
}

func callHooksMiddleware(hooks CallHooks) DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			callCtx := CallContext{
				ID:        call.ID,
				Type:      call.Type,
				Path:      call.Path,
				Transport: call.Transport,
				Metadata:  call.Metadata,
				Context:   ctx,
				StartedAt: time.Now(),
			}
			if hooks.OnCallStart != nil {
				hooks.OnCallStart(callCtx)
			}

			out, err := next(ctx, call)

			callCtx.Duration = time.Since(callCtx.StartedAt)
			if err != nil {
				if hooks.OnCallError != nil {
					hooks.OnCallError(callCtx, err)
				}
			} else if hooks.OnCallSuccess != nil {
				hooks.OnCallSuccess(callCtx)
			}
			return out, err
		}
	}
}

// LoggingHooks logs every call at info level and failures at error level.
func LoggingHooks(logger logging.ServiceLogger) CallHooks {
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			logger.Info("Call started", logging.LogFields{
				"id":        ctx.ID,
				"type":      ctx.Type.String(),
				"path":      ctx.Path,
				"transport": ctx.Transport,
			})
		},
		OnCallSuccess: func(ctx CallContext) {
			logger.Info("Call completed", logging.LogFields{
				"id":          ctx.ID,
				"path":        ctx.Path,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnCallError: func(ctx CallContext, err error) {
			logger.Error("Call failed", err, logging.LogFields{
				"id":          ctx.ID,
				"path":        ctx.Path,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks forwards the lifecycle to plain counters.
func MetricsHooks(onStart, onSuccess, onError func(typ procedure.Type, path string)) CallHooks {
	return CallHooks{
		OnCallStart: func(ctx CallContext) {
			if onStart != nil {
				onStart(ctx.Type, ctx.Path)
			}
		},
		OnCallSuccess: func(ctx CallContext) {
			if onSuccess != nil {
				onSuccess(ctx.Type, ctx.Path)
			}
		},
		OnCallError: func(ctx CallContext, err error) {
			if onError != nil {
				onError(ctx.Type, ctx.Path)
			}
		},
	}
}

// AlertingHooks calls alert for every failed call.
func AlertingHooks(alert func(ctx CallContext, err error)) CallHooks {
	return CallHooks{OnCallError: alert}
}
