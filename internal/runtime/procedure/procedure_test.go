package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

type testCtx struct {
	user string
}

func echo(ctx context.Context, opts ResolveOptions[testCtx]) (any, error) {
	return opts.Input, nil
}

func recordingMiddleware(name string, calls *[]string) Middleware[testCtx] {
	return func(ctx context.Context, opts MiddlewareOptions[testCtx]) error {
		*calls = append(*calls, name)
		return nil
	}
}

type bothForms struct{}

func (bothForms) Parse(raw any) (any, error)        { return "parse", nil }
func (bothForms) ValidateSync(raw any) (any, error) { return "validate", nil }

type validateOnly struct{}

func (validateOnly) ValidateSync(raw any) (any, error) { return "validate", nil }

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("requires a resolver", func(t *testing.T) {
		_, err := New(Definition[testCtx]{})
		assert.ErrorIs(t, err, errspkg.ErrMissingResolver)
	})

	t.Run("rejects unknown input kinds", func(t *testing.T) {
		_, err := New(Definition[testCtx]{Input: 42, Resolve: echo})
		assert.ErrorIs(t, err, errspkg.ErrNoValidator)
		assert.EqualError(t, err, "flowrpc: could not find a validator fn")
	})

	t.Run("nil input parses to nil", func(t *testing.T) {
		p, err := New(Definition[testCtx]{Resolve: echo})
		require.NoError(t, err)
		assert.False(t, p.HasInput())

		out, err := p.ParseInput("ignored")
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func TestParserProbeOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"plain function", func(any) (any, error) { return "func", nil }, "func"},
		{"named function", ParseFunc(func(any) (any, error) { return "named", nil }), "named"},
		{"parse wins over validate", bothForms{}, "parse"},
		{"validate only", validateOnly{}, "validate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(Definition[testCtx]{Input: tt.input, Resolve: echo})
			require.NoError(t, err)

			out, err := p.ParseInput(nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestParseInputWrapsFailures(t *testing.T) {
	t.Parallel()

	cause := errors.New("not a string")
	p, err := New(Definition[testCtx]{
		Input:   func(any) (any, error) { return nil, cause },
		Resolve: echo,
	})
	require.NoError(t, err)

	_, err = p.ParseInput(1)
	assert.ErrorIs(t, err, rpcerror.ErrBadUserInput)
	assert.ErrorIs(t, err, cause)
}

func TestCall(t *testing.T) {
	t.Parallel()

	t.Run("runs middlewares then resolver", func(t *testing.T) {
		var calls []string
		p, err := New(Definition[testCtx]{
			Input: String(),
			Resolve: func(ctx context.Context, opts ResolveOptions[testCtx]) (any, error) {
				calls = append(calls, "resolve")
				return "hello " + opts.Input.(string) + " from " + opts.Ctx.user, nil
			},
		})
		require.NoError(t, err)
		p = p.InheritMiddlewares([]Middleware[testCtx]{recordingMiddleware("a", &calls), recordingMiddleware("b", &calls)})

		out, err := p.Call(context.Background(), CallOptions[testCtx]{
			Ctx:   testCtx{user: "ann"},
			Input: "world",
			Type:  envelope.Query,
			Path:  "greet",
		})
		require.NoError(t, err)
		assert.Equal(t, "hello world from ann", out)
		assert.Equal(t, []string{"a", "b", "resolve"}, calls)
	})

	t.Run("middleware error short-circuits", func(t *testing.T) {
		var calls []string
		denied := rpcerror.Unauthenticated("login first")
		p, err := New(Definition[testCtx]{Resolve: func(context.Context, ResolveOptions[testCtx]) (any, error) {
			calls = append(calls, "resolve")
			return nil, nil
		}})
		require.NoError(t, err)
		p = p.InheritMiddlewares([]Middleware[testCtx]{
			func(ctx context.Context, opts MiddlewareOptions[testCtx]) error {
				calls = append(calls, "auth:"+string(opts.Type)+":"+opts.Path)
				return denied
			},
			recordingMiddleware("never", &calls),
		})

		_, err = p.Call(context.Background(), CallOptions[testCtx]{Type: envelope.Mutation, Path: "post.create"})
		assert.Same(t, denied, err)
		assert.Equal(t, []string{"auth:mutation:post.create"}, calls)
	})

	t.Run("middleware error wins over bad input", func(t *testing.T) {
		p, err := New(Definition[testCtx]{Input: String(), Resolve: echo})
		require.NoError(t, err)
		p = p.InheritMiddlewares([]Middleware[testCtx]{
			func(context.Context, MiddlewareOptions[testCtx]) error {
				return rpcerror.Unauthenticated("sign in first")
			},
		})

		_, err = p.Call(context.Background(), CallOptions[testCtx]{Type: envelope.Mutation, Input: 42})
		assert.ErrorIs(t, err, rpcerror.ErrUnauthenticated)
		assert.NotErrorIs(t, err, rpcerror.ErrBadUserInput)
	})

	t.Run("parse failure after middlewares", func(t *testing.T) {
		var calls []string
		p, err := New(Definition[testCtx]{Input: String(), Resolve: echo})
		require.NoError(t, err)
		p = p.InheritMiddlewares([]Middleware[testCtx]{recordingMiddleware("a", &calls)})

		_, err = p.Call(context.Background(), CallOptions[testCtx]{Input: 42})
		assert.ErrorIs(t, err, rpcerror.ErrBadUserInput)
		assert.Equal(t, []string{"a"}, calls)
	})
}

func TestInheritMiddlewaresDoesNotMutate(t *testing.T) {
	t.Parallel()

	var calls []string
	resolves := 0
	base, err := New(Definition[testCtx]{Resolve: func(context.Context, ResolveOptions[testCtx]) (any, error) {
		resolves++
		return nil, nil
	}})
	require.NoError(t, err)

	child := base.InheritMiddlewares([]Middleware[testCtx]{recordingMiddleware("child", &calls)})
	parent := child.InheritMiddlewares([]Middleware[testCtx]{recordingMiddleware("parent", &calls)})

	assert.Empty(t, base.Middlewares())
	assert.Len(t, child.Middlewares(), 1)
	assert.Len(t, parent.Middlewares(), 2)

	_, err = parent.Call(context.Background(), CallOptions[testCtx]{})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "child"}, calls)

	calls = nil
	_, err = base.Call(context.Background(), CallOptions[testCtx]{})
	require.NoError(t, err)
	assert.Empty(t, calls)
	assert.Equal(t, 2, resolves)

	assert.Same(t, base, base.InheritMiddlewares(nil))
}

func TestMiddlewaresReturnsCopy(t *testing.T) {
	t.Parallel()

	var calls []string
	p, err := New(Definition[testCtx]{Resolve: echo})
	require.NoError(t, err)
	p = p.InheritMiddlewares([]Middleware[testCtx]{recordingMiddleware("a", &calls)})

	mws := p.Middlewares()
	mws[0] = recordingMiddleware("replaced", &calls)

	_, err = p.Call(context.Background(), CallOptions[testCtx]{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, calls)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestBuiltinParsers(t *testing.T) {
	t.Parallel()

	t.Run("string", func(t *testing.T) {
		parse := String()

		out, err := parse("world")
		require.NoError(t, err)
		assert.Equal(t, "world", out)

		out, err = parse(transformer.RawPayload(json.RawMessage(`"wire"`), nil))
		require.NoError(t, err)
		assert.Equal(t, "wire", out)

		_, err = parse(transformer.RawPayload(json.RawMessage(`42`), nil))
		assert.Error(t, err)

		_, err = parse(42)
		assert.Error(t, err)

		_, err = parse(nil)
		assert.EqualError(t, err, "expected string, got no input")
	})

	t.Run("decode", func(t *testing.T) {
		parse := Decode[point]()

		out, err := parse(point{X: 1})
		require.NoError(t, err)
		assert.Equal(t, point{X: 1}, out)

		out, err = parse(json.RawMessage(`{"x":2,"y":3}`))
		require.NoError(t, err)
		assert.Equal(t, point{X: 2, Y: 3}, out)

		out, err = parse(map[string]any{"x": 4})
		require.NoError(t, err)
		assert.Equal(t, point{X: 4}, out)
	})

	t.Run("proto", func(t *testing.T) {
		parser := Proto(func() proto.Message { return &wrapperspb.StringValue{} })

		out, err := parser.Parse(transformer.RawPayload(json.RawMessage(`"hi"`), nil))
		require.NoError(t, err)
		assert.Equal(t, "hi", out.(*wrapperspb.StringValue).GetValue())

		msg := wrapperspb.String("direct")
		out, err = parser.Parse(msg)
		require.NoError(t, err)
		assert.Same(t, msg, out)

		_, err = parser.Parse(wrapperspb.Int64(1))
		assert.ErrorContains(t, err, "expected google.protobuf.StringValue")
	})

	t.Run("validated", func(t *testing.T) {
		v := Validated(func(p point) error {
			if p.X < 0 {
				return errors.New("x must be positive")
			}
			return nil
		})

		out, err := v.ValidateSync(point{X: 1})
		require.NoError(t, err)
		assert.Equal(t, point{X: 1}, out)

		_, err = v.ValidateSync(point{X: -1})
		assert.EqualError(t, err, "x must be positive")
	})

	t.Run("validated inside a procedure", func(t *testing.T) {
		p, err := New(Definition[testCtx]{
			Input: Validated(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("empty")
				}
				return nil
			}),
			Resolve: echo,
		})
		require.NoError(t, err)

		_, err = p.ParseInput(" ")
		assert.ErrorIs(t, err, rpcerror.ErrBadUserInput)
	})
}
