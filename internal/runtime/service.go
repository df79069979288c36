package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/flowrpc/internal/runtime/config"
	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/router"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
	"github.com/drblury/flowrpc/transport"
)

const shutdownTimeout = 10 * time.Second

var (
	transportBuild = transport.Build
	serveHTTP      = func(srv *http.Server) error { return srv.ListenAndServe() }
)

// ErrorInfo describes a failed call to OnError. Ctx is only meaningful when
// HasCtx is set: failures before dispatch, or in CreateContext, have none.
type ErrorInfo[C any] struct {
	Error   *rpcerror.Error
	Type    procedure.Type
	Path    string
	Input   json.RawMessage
	Ctx     C
	HasCtx  bool
	Request *http.Request
}

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields zero to skip them.
type ServiceDependencies[C any] struct {
	// CreateContext builds the per-call context from the incoming request.
	// An error fails the call with that error.
	CreateContext func(r *http.Request) (C, error)
	// OnError runs exactly once for every failed call.
	OnError     func(info ErrorInfo[C])
	Transformer transformer.Pair
	Hooks       CallHooks
	// Middlewares are appended after the default middleware chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	DisableTracing            bool
	// Metrics receives the procedure collectors. Nil means the prometheus
	// default registerer.
	Metrics prometheus.Registerer
	// Transport overrides the registry lookup for EventBusTransport.
	Transport transport.Builder
	Upgrader  *websocket.Upgrader
}

// Service serves a router over HTTP envelopes and WebSocket frames.
type Service struct {
	Conf   *config.Config
	Logger logging.ServiceLogger

	mux         *http.ServeMux
	transformer transformer.Pair
	upgrader    *websocket.Upgrader

	base        DispatchFunc
	dispatch    DispatchFunc
	middlewares []DispatchMiddleware
	reportError func(call *Call, err *rpcerror.Error)

	tracingDisabled bool
	registerer      prometheus.Registerer
	metrics         *ProcedureMetrics

	procedures []procedureKey
	stats      map[procedureKey]*procedureStats
	resources  *resourceTracker

	eventBus transport.Transport

	closeOnce sync.Once
}

type procedureKey struct {
	Type procedure.Type
	Path string
}

// NewService validates conf, builds the event bus when one is configured and
// installs the middleware chain. Register extra middleware before serving.
func NewService[C any](conf *config.Config, logger logging.ServiceLogger, r *router.Router[C], deps ServiceDependencies[C]) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if r == nil {
		return nil, errspkg.ErrRouterRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	logger = logging.OrNop(logger)
	logger.Info("Creating rpc service", logging.LogFields{
		"base_path": resolved.BasePath,
		"event_bus": resolved.EventBusTransport,
		"config":    resolved.String(),
	})

	s := &Service{
		Conf:            &resolved,
		Logger:          logger,
		mux:             http.NewServeMux(),
		transformer:     deps.Transformer.WithDefaults(),
		upgrader:        deps.Upgrader,
		tracingDisabled: deps.DisableTracing,
		registerer:      deps.Metrics,
		stats:           make(map[procedureKey]*procedureStats),
		resources:       newResourceTracker(),
	}
	if s.upgrader == nil {
		s.upgrader = &websocket.Upgrader{CheckOrigin: s.checkOrigin}
	}

	for _, typ := range []procedure.Type{procedure.Query, procedure.Mutation, procedure.Subscription} {
		for _, path := range r.Procedures(typ) {
			key := procedureKey{Type: typ, Path: path}
			s.procedures = append(s.procedures, key)
			s.stats[key] = newProcedureStats()
		}
	}

	s.base = dispatchTo(r, deps.CreateContext, s.transformer)
	s.dispatch = s.withStats(s.base)
	s.reportError = errorReporter(deps.OnError)

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = DefaultMiddlewares()
	}
	if !deps.Hooks.IsZero() {
		registrations = append(registrations, CallHooksMiddleware(deps.Hooks))
	}
	registrations = append(registrations, deps.Middlewares...)
	if err := s.registerMiddlewares(registrations); err != nil {
		return nil, err
	}
	if err := s.buildEventBus(deps.Transport); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

func dispatchTo[C any](r *router.Router[C], createContext func(*http.Request) (C, error), tr transformer.Pair) DispatchFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		var appCtx C
		if createContext != nil {
			created, err := createContext(call.Request)
			if err != nil {
				return nil, err
			}
			appCtx = created
		}
		call.appCtx, call.hasAppCtx = appCtx, true

		var input any
		if len(call.Input) > 0 && !jsoncodec.IsNull(call.Input) {
			input = transformer.RawPayload(call.Input, tr.Input)
		}
		return r.Dispatch(ctx, router.DispatchOptions[C]{
			Type:  call.Type,
			Path:  call.Path,
			Ctx:   appCtx,
			Input: input,
		})
	}
}

func errorReporter[C any](onError func(ErrorInfo[C])) func(*Call, *rpcerror.Error) {
	return func(call *Call, err *rpcerror.Error) {
		if onError == nil {
			return
		}
		info := ErrorInfo[C]{
			Error:   err,
			Type:    call.Type,
			Path:    call.Path,
			Input:   call.Input,
			Request: call.Request,
		}
		if call.hasAppCtx {
			info.Ctx, info.HasCtx = call.appCtx.(C)
		}
		onError(info)
	}
}

func (s *Service) withStats(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		stats, ok := s.stats[procedureKey{Type: call.Type, Path: call.Path}]
		if !ok {
			return next(ctx, call)
		}
		stats.onStart()
		start := time.Now()
		out, err := next(ctx, call)
		stats.onFinish(time.Since(start), rpcerror.Classify(err))
		return out, err
	}
}

func (s *Service) registerMiddlewares(registrations []MiddlewareRegistration) error {
	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) routes() {
	base := s.Conf.BasePath
	s.mux.HandleFunc(base, s.handleHTTP)
	if s.Conf.WebSocketEnabled {
		s.mux.HandleFunc(base+"/ws", s.handleWebSocket)
	}
	if s.Conf.IntrospectionEnabled {
		s.mux.HandleFunc(base+"/procedures", s.handleProcedures)
	}
	if s.Conf.MetricsEnabled {
		s.mux.Handle("/metrics", s.metricsHandler())
	}
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// RegisterHTTPHandler mounts an extra handler next to the rpc endpoints.
func (s *Service) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the service mux wrapped with CORS handling.
func (s *Service) Handler() http.Handler {
	return s.withCORS(s.mux)
}

// Start serves Handler on Conf.ServerAddress until ctx ends, then shuts the
// server down and closes the event bus.
func (s *Service) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Conf.ServerAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting rpc server", logging.LogFields{"address": srv.Addr, "base_path": s.Conf.BasePath})
		errCh <- serveHTTP(srv)
	}()

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the event bus. It is safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.eventBus.Close()
	})
	return err
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	if len(s.Conf.CORSAllowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderCorrelationID)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// checkOrigin accepts same-origin upgrades and anything CORS allows.
func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return s.allowedCORSOrigin(origin) != ""
}
