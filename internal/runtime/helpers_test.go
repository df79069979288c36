package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowrpc/internal/runtime/config"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/router"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/subscription"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields logging.LogFields
}

// recordingLogger keeps every entry on the root logger. Loggers returned by
// With share the root's entries.
type recordingLogger struct {
	root    *recordingLogger
	fields  logging.LogFields
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) base() *recordingLogger {
	if l.root != nil {
		return l.root
	}
	return l
}

func (l *recordingLogger) record(level, msg string, err error, fields logging.LogFields) {
	merged := logging.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	root := l.base()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.entries = append(root.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (l *recordingLogger) With(fields logging.LogFields) logging.ServiceLogger {
	merged := logging.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{root: l.base(), fields: merged}
}

func (l *recordingLogger) Debug(msg string, fields logging.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields logging.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields logging.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields logging.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) messages(level string) []string {
	root := l.base()
	root.mu.Lock()
	defer root.mu.Unlock()
	var out []string
	for _, e := range root.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func (l *recordingLogger) find(msg string) (logEntry, bool) {
	root := l.base()
	root.mu.Lock()
	defer root.mu.Unlock()
	for _, e := range root.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

type appCtx struct {
	user string
}

// testRouter registers a small set of procedures shared by the service tests.
func testRouter() *router.Router[appCtx] {
	return router.New[appCtx]().
		MustQuery("greet", procedure.Definition[appCtx]{
			Input: procedure.String(),
			Resolve: func(_ context.Context, opts procedure.ResolveOptions[appCtx]) (any, error) {
				return "hello " + opts.Input.(string), nil
			},
		}).
		MustQuery("whoami", procedure.Definition[appCtx]{
			Resolve: func(_ context.Context, opts procedure.ResolveOptions[appCtx]) (any, error) {
				if opts.Ctx.user == "" {
					return nil, rpcerror.HTTPUnauthorized()
				}
				return opts.Ctx.user, nil
			},
		}).
		MustQuery("panic", procedure.Definition[appCtx]{
			Resolve: func(context.Context, procedure.ResolveOptions[appCtx]) (any, error) {
				panic("resolver exploded")
			},
		}).
		MustMutation("fail", procedure.Definition[appCtx]{
			Resolve: func(context.Context, procedure.ResolveOptions[appCtx]) (any, error) {
				return nil, errPlain
			},
		}).
		MustSubscription("count", procedure.Definition[appCtx]{
			Input: procedure.Decode[int](),
			Resolve: func(_ context.Context, opts procedure.ResolveOptions[appCtx]) (any, error) {
				n := opts.Input.(int)
				return subscription.New(func(ctx context.Context, emit subscription.Emitter) error {
					for i := range n {
						if !emit.Data(i) {
							return nil
						}
					}
					return nil
				}), nil
			},
		}).
		MustSubscription("silent", procedure.Definition[appCtx]{
			Resolve: func(context.Context, procedure.ResolveOptions[appCtx]) (any, error) {
				return subscription.New(func(ctx context.Context, emit subscription.Emitter) error {
					<-ctx.Done()
					return nil
				}), nil
			},
		}).
		MustSubscription("notastream", procedure.Definition[appCtx]{
			Resolve: func(context.Context, procedure.ResolveOptions[appCtx]) (any, error) {
				return 42, nil
			},
		})
}

var errPlain = plainError("database unavailable")

type plainError string

func (e plainError) Error() string { return string(e) }

type testServer struct {
	svc    *Service
	srv    *httptest.Server
	logger *recordingLogger

	mu     sync.Mutex
	errors []ErrorInfo[appCtx]
}

func (ts *testServer) reported() []ErrorInfo[appCtx] {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]ErrorInfo[appCtx](nil), ts.errors...)
}

func newTestServer(t *testing.T, conf *config.Config, mutate ...func(*ServiceDependencies[appCtx])) *testServer {
	t.Helper()
	if conf == nil {
		conf = &config.Config{}
	}
	ts := &testServer{logger: &recordingLogger{}}
	deps := ServiceDependencies[appCtx]{
		CreateContext: func(r *http.Request) (appCtx, error) {
			return appCtx{user: r.Header.Get("X-User")}, nil
		},
		OnError: func(info ErrorInfo[appCtx]) {
			ts.mu.Lock()
			ts.errors = append(ts.errors, info)
			ts.mu.Unlock()
		},
		DisableTracing: true,
		Metrics:        prometheus.NewRegistry(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	svc, err := NewService(conf, ts.logger, testRouter(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ts.svc = svc
	ts.srv = httptest.NewServer(svc.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + ts.svc.Conf.BasePath + "/ws"
}

// post sends raw body to the envelope endpoint and decodes the reply.
func (ts *testServer) post(t *testing.T, body string, header http.Header) (*http.Response, envelope.Response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+ts.svc.Conf.BasePath, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope.Response
	require.NoError(t, jsoncodec.Decode(resp.Body, &env))
	return resp, env
}

func envelopeBody(t *testing.T, id, method, path string, input any) string {
	t.Helper()
	req := envelope.Request{ID: id, Method: method, Params: envelope.Params{Path: path}}
	if input != nil {
		raw, err := jsoncodec.Marshal(input)
		require.NoError(t, err)
		req.Params.Input = raw
	}
	data, err := jsoncodec.Marshal(req)
	require.NoError(t, err)
	return string(data)
}
