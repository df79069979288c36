package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

type reqCtx struct {
	calls *[]string
}

func constant(v string) procedure.Definition[reqCtx] {
	return procedure.Definition[reqCtx]{
		Resolve: func(ctx context.Context, opts procedure.ResolveOptions[reqCtx]) (any, error) {
			if opts.Ctx.calls != nil {
				*opts.Ctx.calls = append(*opts.Ctx.calls, "resolve:"+opts.Path)
			}
			return v, nil
		},
	}
}

func record(name string) procedure.Middleware[reqCtx] {
	return func(ctx context.Context, opts procedure.MiddlewareOptions[reqCtx]) error {
		*opts.Ctx.calls = append(*opts.Ctx.calls, name)
		return nil
	}
}

func TestRegisterAndDispatch(t *testing.T) {
	t.Parallel()

	r := New[reqCtx]().
		MustQuery("greet", procedure.Definition[reqCtx]{
			Input: procedure.String(),
			Resolve: func(ctx context.Context, opts procedure.ResolveOptions[reqCtx]) (any, error) {
				return "hello " + opts.Input.(string), nil
			},
		}).
		MustMutation("greet", constant("mutated"))

	out, err := r.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: envelope.Query, Path: "greet", Input: "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = r.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: envelope.Mutation, Path: "greet"})
	require.NoError(t, err)
	assert.Equal(t, "mutated", out)
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()

	r := New[reqCtx]().MustQuery("a", constant("a"))

	_, err := r.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: envelope.Mutation, Path: "a"})
	assert.ErrorIs(t, err, rpcerror.ErrNotFound)
	assert.EqualError(t, err, `no such mutation procedure "a"`)

	_, err = r.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: "stream", Path: "a"})
	assert.ErrorIs(t, err, rpcerror.ErrBadRequest)
}

func TestRegisterRejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	_, err := New[reqCtx]().Query("x", procedure.Definition[reqCtx]{})
	assert.ErrorIs(t, err, errspkg.ErrMissingResolver)
	assert.EqualError(t, err, `query "x": flowrpc: procedure resolver is required`)

	assert.Panics(t, func() {
		New[reqCtx]().MustSubscription("x", procedure.Definition[reqCtx]{Input: 1, Resolve: constant("").Resolve})
	})
}

func TestMergeResolvesAllPaths(t *testing.T) {
	t.Parallel()

	users := New[reqCtx]().MustQuery("get", constant("user")).MustMutation("create", constant("created"))
	posts := New[reqCtx]().MustQuery("list", constant("posts"))

	root, err := New[reqCtx]().MustQuery("health", constant("ok")).MergePrefixed("user.", users)
	require.NoError(t, err)
	root, err = root.MergePrefixed("post.", posts)
	require.NoError(t, err)

	tests := []struct {
		typ  procedure.Type
		path string
		want string
	}{
		{envelope.Query, "health", "ok"},
		{envelope.Query, "user.get", "user"},
		{envelope.Mutation, "user.create", "created"},
		{envelope.Query, "post.list", "posts"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out, err := root.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: tt.typ, Path: tt.path})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	assert.Equal(t, []string{"health", "post.list", "user.get"}, root.Procedures(envelope.Query))
	assert.True(t, root.Has(envelope.Mutation, "user.create"))
	assert.False(t, root.Has(envelope.Query, "user.create"))

	assert.Equal(t, []string{"get"}, users.Procedures(envelope.Query), "child router is unchanged")
}

func TestMergeDuplicates(t *testing.T) {
	t.Parallel()

	t.Run("same path same prefix", func(t *testing.T) {
		a := New[reqCtx]().MustQuery("x", constant("a"))
		b := New[reqCtx]().MustQuery("x", constant("b"))

		_, err := a.Merge(b)
		require.Error(t, err)
		assert.ErrorIs(t, err, errspkg.ErrDuplicateEndpoint)
		assert.EqualError(t, err, "duplicate endpoint(s): x")

		var dup *DuplicateError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, []string{"x"}, dup.Paths)
	})

	t.Run("lists every collision", func(t *testing.T) {
		a := New[reqCtx]().
			MustQuery("api.a", constant("")).
			MustQuery("api.b", constant("")).
			MustSubscription("api.c", constant(""))
		b := New[reqCtx]().
			MustQuery("b", constant("")).
			MustQuery("a", constant("")).
			MustQuery("free", constant("")).
			MustSubscription("c", constant(""))

		_, err := a.MergePrefixed("api.", b)
		assert.EqualError(t, err, "duplicate endpoint(s): api.a, api.b, api.c")
	})

	t.Run("different kinds do not collide", func(t *testing.T) {
		a := New[reqCtx]().MustQuery("x", constant(""))
		_, err := a.Mutation("x", constant(""))
		assert.NoError(t, err)
	})

	t.Run("register collides with existing path", func(t *testing.T) {
		a := New[reqCtx]().MustQuery("x", constant(""))
		_, err := a.Query("x", constant(""))
		assert.ErrorIs(t, err, errspkg.ErrDuplicateEndpoint)
	})

	t.Run("different prefixes do not collide", func(t *testing.T) {
		child := New[reqCtx]().MustQuery("x", constant(""))
		root := New[reqCtx]().MustMerge("a.", child).MustMerge("b.", child)
		assert.Equal(t, []string{"a.x", "b.x"}, root.Procedures(envelope.Query))
	})
}

func TestMiddlewareOrderingAcrossMerges(t *testing.T) {
	t.Parallel()

	leaf := New[reqCtx]().Middleware(record("leaf")).MustQuery("q", constant(""))
	mid := New[reqCtx]().Middleware(record("mid")).MustMerge("leaf.", leaf)
	root := New[reqCtx]().Middleware(record("root")).MustMerge("mid.", mid)

	var calls []string
	_, err := root.CreateCaller(reqCtx{calls: &calls}).Query(context.Background(), "mid.leaf.q", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "mid", "leaf", "resolve:mid.leaf.q"}, calls)
}

func TestMiddlewareOnlyAffectsLaterMerges(t *testing.T) {
	t.Parallel()

	before := New[reqCtx]().MustQuery("before", constant(""))
	withMW := before.Middleware(record("auth"))
	after := withMW.MustQuery("after", constant(""))

	var calls []string
	caller := after.CreateCaller(reqCtx{calls: &calls})

	_, err := caller.Query(context.Background(), "before", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"resolve:before"}, calls)

	calls = nil
	_, err = caller.Query(context.Background(), "after", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "resolve:after"}, calls)

	assert.Empty(t, before.Middlewares(), "receiver keeps its middleware list")
	assert.Len(t, after.Middlewares(), 1)
}

func TestMiddlewareShortCircuitsDispatch(t *testing.T) {
	t.Parallel()

	denied := rpcerror.Forbidden("admins only")
	r := New[reqCtx]().
		Middleware(func(ctx context.Context, opts procedure.MiddlewareOptions[reqCtx]) error {
			if opts.Type == envelope.Mutation {
				return denied
			}
			return nil
		}).
		MustQuery("read", constant("data")).
		MustMutation("write", constant("written"))

	caller := r.CreateCaller(reqCtx{})
	out, err := caller.Query(context.Background(), "read", nil)
	require.NoError(t, err)
	assert.Equal(t, "data", out)

	_, err = caller.Mutation(context.Background(), "write", nil)
	assert.Same(t, denied, err)
}

func TestCallerSubscription(t *testing.T) {
	t.Parallel()

	r := New[reqCtx]().MustSubscription("ticks", constant("stream"))
	out, err := r.CreateCaller(reqCtx{}).Subscription(context.Background(), "ticks", nil)
	require.NoError(t, err)
	assert.Equal(t, "stream", out)

	_, err = r.CreateCaller(reqCtx{}).Query(context.Background(), "ticks", nil)
	assert.ErrorIs(t, err, rpcerror.ErrNotFound)
}

func TestMergeNilChild(t *testing.T) {
	t.Parallel()

	r := New[reqCtx]()
	merged, err := r.Merge(nil)
	require.NoError(t, err)
	assert.Same(t, r, merged)
}

func TestZeroValueRouter(t *testing.T) {
	t.Parallel()

	var r Router[reqCtx]
	next, err := r.Query("a", constant("ok"))
	require.NoError(t, err)

	out, err := next.CreateCaller(reqCtx{}).Query(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.False(t, r.Has(envelope.Query, "a"))

	_, err = r.Dispatch(context.Background(), DispatchOptions[reqCtx]{Type: envelope.Query, Path: "a"})
	assert.ErrorIs(t, err, rpcerror.ErrNotFound)
}

func TestAuthMiddlewareRunsBeforeInputParsing(t *testing.T) {
	t.Parallel()

	r := New[reqCtx]().
		Middleware(func(ctx context.Context, opts procedure.MiddlewareOptions[reqCtx]) error {
			if opts.Ctx.calls == nil {
				return rpcerror.Unauthenticated("sign in first")
			}
			return nil
		}).
		MustMutation("post.create", procedure.Definition[reqCtx]{
			Input: procedure.String(),
			Resolve: func(ctx context.Context, opts procedure.ResolveOptions[reqCtx]) (any, error) {
				return opts.Input, nil
			},
		})

	_, err := r.CreateCaller(reqCtx{}).Mutation(context.Background(), "post.create", 42)
	assert.ErrorIs(t, err, rpcerror.ErrUnauthenticated)
	assert.NotErrorIs(t, err, rpcerror.ErrBadUserInput)

	var calls []string
	_, err = r.CreateCaller(reqCtx{calls: &calls}).Mutation(context.Background(), "post.create", 42)
	assert.ErrorIs(t, err, rpcerror.ErrBadUserInput)
}
