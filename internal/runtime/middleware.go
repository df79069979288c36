package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/flowrpc/internal/runtime/ids"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"

	// HeaderCorrelationID carries the correlation id in both directions.
	HeaderCorrelationID = "X-Correlation-ID"
	// MetadataKeyCorrelationID is where the correlation id lands in Call.Metadata.
	MetadataKeyCorrelationID = "correlation_id"

	tracerName = "github.com/drblury/flowrpc"
)

// Call is one decoded request envelope on its way to the router.
type Call struct {
	ID    string
	Type  procedure.Type
	Path  string
	Input json.RawMessage
	// Request is the HTTP request, or the upgrade request for WebSocket calls.
	Request   *http.Request
	Transport string
	// Metadata is shared by the middleware chain and echoed where it makes sense.
	Metadata metadata.Metadata

	appCtx    any
	hasAppCtx bool
}

func (c *Call) header(key string) string {
	if c.Request == nil {
		return ""
	}
	return c.Request.Header.Get(key)
}

// DispatchFunc resolves a call to its output.
type DispatchFunc func(ctx context.Context, call *Call) (any, error)

// DispatchMiddleware wraps a DispatchFunc.
type DispatchMiddleware func(next DispatchFunc) DispatchFunc

// MiddlewareBuilder constructs a middleware using the service it is
// registered on. Returning a nil middleware skips the registration.
type MiddlewareBuilder func(*Service) (DispatchMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to a Service.
type MiddlewareRegistration struct {
	Name       string
	Middleware DispatchMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain NewService installs unless disabled.
// The first entry is the outermost.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogCallsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// RegisterMiddleware appends the middleware to the dispatch chain. Earlier
// registrations wrap later ones.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw DispatchMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.middlewares = append(s.middlewares, mw)
	s.dispatch = s.withStats(composeMiddlewares(s.middlewares, s.base))
	return nil
}

func composeMiddlewares(mws []DispatchMiddleware, base DispatchFunc) DispatchFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type correlationIDKey struct{}

// CorrelationID returns the id assigned by the correlation middleware.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// CorrelationIDMiddleware reuses the caller's X-Correlation-ID or assigns a
// fresh ULID.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

func correlationIDMiddleware(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		id := call.header(HeaderCorrelationID)
		if id == "" {
			id = ids.CreateULID()
		}
		call.Metadata = call.Metadata.With(MetadataKeyCorrelationID, id)
		return next(context.WithValue(ctx, correlationIDKey{}, id), call)
	}
}

// LogCallsMiddleware logs each call at debug level. A nil logger means the
// service logger.
func LogCallsMiddleware(logger logging.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_calls",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log calls middleware requires a logger")
			}
			return logCallsMiddleware(l), nil
		},
	}
}

func logCallsMiddleware(logger logging.ServiceLogger) DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			fields := logging.LogFields{
				"id":             call.ID,
				"type":           call.Type.String(),
				"path":           call.Path,
				"transport":      call.Transport,
				"correlation_id": call.Metadata[MetadataKeyCorrelationID],
			}
			logger.Debug("Handling call", fields)

			start := time.Now()
			out, err := next(ctx, call)

			fields["duration_ms"] = time.Since(start).Milliseconds()
			if err != nil {
				fields["code"] = string(rpcerror.Classify(err).Code)
			}
			logger.Debug("Handled call", fields)
			return out, err
		}
	}
}

// TracerMiddleware wraps each call in an OpenTelemetry span named
// "flowrpc.<type> <path>". Trace context is extracted from request headers.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			if s.tracingDisabled {
				return nil, nil
			}
			return tracerMiddleware(otel.Tracer(tracerName), otel.GetTextMapPropagator()), nil
		},
	}
}

func tracerMiddleware(tracer trace.Tracer, propagator propagation.TextMapPropagator) DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			if call.Request != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(call.Request.Header))
			}
			ctx, span := tracer.Start(ctx,
				fmt.Sprintf("flowrpc.%s %s", call.Type, call.Path),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("rpc.system", "flowrpc"),
				attribute.String("rpc.method", call.Path),
				attribute.String("flowrpc.type", call.Type.String()),
				attribute.String("flowrpc.transport", call.Transport),
				attribute.String("flowrpc.id", call.ID),
			)

			out, err := next(ctx, call)
			if err != nil {
				rpcErr := rpcerror.Classify(err)
				span.RecordError(err)
				span.SetAttributes(attribute.String("flowrpc.code", string(rpcErr.Code)))
				span.SetStatus(codes.Error, rpcErr.Message)
			}
			return out, err
		}
	}
}

// MetricsMiddleware records prometheus call metrics when MetricsEnabled is set.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (DispatchMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			metrics := NewProcedureMetrics(s.Conf.MetricsNamespace, s.registerer)
			if err := metrics.Register(); err != nil {
				return nil, err
			}
			s.metrics = metrics
			return metrics.middleware(), nil
		},
	}
}

// RecovererMiddleware turns panics into INTERNAL_SERVER_ERROR.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: recovererMiddleware,
	}
}

func recovererMiddleware(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, call *Call) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				msg := rpcerror.MessageFromUnknown(r, "internal server error")
				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("panic: %v", r)
				}
				out, err = nil, rpcerror.New(rpcerror.CodeInternalServerError, msg, cause)
			}
		}()
		return next(ctx, call)
	}
}
