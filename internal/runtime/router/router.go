// Package router composes procedures into an immutable registry keyed by call
// kind and path.
//
// Every builder method returns a new Router and leaves the receiver usable.
// Router middlewares are pushed into procedures when they are merged, so a
// middleware added with Middleware only covers procedures merged after it.
package router

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/procedure"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

var procedureTypes = []procedure.Type{envelope.Query, envelope.Mutation, envelope.Subscription}

// DuplicateError lists every path a merge would have registered twice.
type DuplicateError struct {
	Paths []string
}

func (e *DuplicateError) Error() string {
	return "duplicate endpoint(s): " + strings.Join(e.Paths, ", ")
}

func (e *DuplicateError) Is(target error) bool {
	return target == errspkg.ErrDuplicateEndpoint
}

// Router is usable as a zero value; New is a convenience.
type Router[C any] struct {
	procedures  map[procedure.Type]map[string]*procedure.Procedure[C]
	middlewares []procedure.Middleware[C]
}

func New[C any]() *Router[C] {
	r := &Router[C]{procedures: make(map[procedure.Type]map[string]*procedure.Procedure[C], len(procedureTypes))}
	for _, t := range procedureTypes {
		r.procedures[t] = map[string]*procedure.Procedure[C]{}
	}
	return r
}

func (r *Router[C]) clone() *Router[C] {
	cp := &Router[C]{
		procedures:  make(map[procedure.Type]map[string]*procedure.Procedure[C], len(procedureTypes)),
		middlewares: slices.Clone(r.middlewares),
	}
	for _, t := range procedureTypes {
		paths := maps.Clone(r.procedures[t])
		if paths == nil {
			paths = map[string]*procedure.Procedure[C]{}
		}
		cp.procedures[t] = paths
	}
	return cp
}

func (r *Router[C]) Query(path string, def procedure.Definition[C]) (*Router[C], error) {
	return r.register(envelope.Query, path, def)
}

func (r *Router[C]) Mutation(path string, def procedure.Definition[C]) (*Router[C], error) {
	return r.register(envelope.Mutation, path, def)
}

func (r *Router[C]) Subscription(path string, def procedure.Definition[C]) (*Router[C], error) {
	return r.register(envelope.Subscription, path, def)
}

// MustQuery is Query for static wiring. It panics on error.
func (r *Router[C]) MustQuery(path string, def procedure.Definition[C]) *Router[C] {
	return r.must(r.Query(path, def))
}

func (r *Router[C]) MustMutation(path string, def procedure.Definition[C]) *Router[C] {
	return r.must(r.Mutation(path, def))
}

func (r *Router[C]) MustSubscription(path string, def procedure.Definition[C]) *Router[C] {
	return r.must(r.Subscription(path, def))
}

// MustMerge is MergePrefixed for static wiring. It panics on error.
func (r *Router[C]) MustMerge(prefix string, child *Router[C]) *Router[C] {
	return r.must(r.MergePrefixed(prefix, child))
}

func (r *Router[C]) must(next *Router[C], err error) *Router[C] {
	if err != nil {
		panic(err)
	}
	return next
}

// register builds a single-entry router and merges it, so registration shares
// the duplicate check with Merge.
func (r *Router[C]) register(t procedure.Type, path string, def procedure.Definition[C]) (*Router[C], error) {
	proc, err := procedure.New(def)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", t, path, err)
	}
	single := New[C]()
	single.procedures[t][path] = proc
	return r.Merge(single)
}

// Merge absorbs child without a prefix.
func (r *Router[C]) Merge(child *Router[C]) (*Router[C], error) {
	return r.MergePrefixed("", child)
}

// MergePrefixed absorbs every procedure of child under prefix+path. Each one
// inherits r's current middlewares. The result keeps r's middleware list.
func (r *Router[C]) MergePrefixed(prefix string, child *Router[C]) (*Router[C], error) {
	if child == nil {
		return r, nil
	}

	next := r.clone()
	var duplicates []string
	for _, t := range procedureTypes {
		target := next.procedures[t]
		for _, path := range slices.Sorted(maps.Keys(child.procedures[t])) {
			full := prefix + path
			if _, exists := target[full]; exists {
				duplicates = append(duplicates, full)
				continue
			}
			target[full] = child.procedures[t][path].InheritMiddlewares(r.middlewares)
		}
	}

	if len(duplicates) > 0 {
		return nil, &DuplicateError{Paths: duplicates}
	}
	return next, nil
}

// Middleware appends fn. Procedures already in r keep their chains.
func (r *Router[C]) Middleware(fn procedure.Middleware[C]) *Router[C] {
	next := r.clone()
	next.middlewares = append(next.middlewares, fn)
	return next
}

// Middlewares returns a copy of the router-level list.
func (r *Router[C]) Middlewares() []procedure.Middleware[C] {
	return slices.Clone(r.middlewares)
}

// Lookup returns the procedure registered for t at path.
func (r *Router[C]) Lookup(t procedure.Type, path string) (*procedure.Procedure[C], bool) {
	p, ok := r.procedures[t][path]
	return p, ok
}

func (r *Router[C]) Has(t procedure.Type, path string) bool {
	_, ok := r.Lookup(t, path)
	return ok
}

// Procedures returns the sorted paths registered for t.
func (r *Router[C]) Procedures(t procedure.Type) []string {
	return slices.Sorted(maps.Keys(r.procedures[t]))
}

type DispatchOptions[C any] struct {
	Type  procedure.Type
	Path  string
	Ctx   C
	Input any
}

// Dispatch resolves path for the call kind and runs the procedure.
func (r *Router[C]) Dispatch(ctx context.Context, opts DispatchOptions[C]) (any, error) {
	if !slices.Contains(procedureTypes, opts.Type) {
		return nil, rpcerror.BadRequest(fmt.Sprintf("unknown procedure type %q", opts.Type))
	}
	proc, ok := r.procedures[opts.Type][opts.Path]
	if !ok {
		return nil, rpcerror.NotFound(fmt.Sprintf("no such %s procedure %q", opts.Type, opts.Path))
	}
	return proc.Call(ctx, procedure.CallOptions[C]{
		Ctx:   opts.Ctx,
		Input: opts.Input,
		Type:  opts.Type,
		Path:  opts.Path,
	})
}

// Caller invokes procedures in process with a fixed context value.
type Caller[C any] struct {
	router *Router[C]
	ctx    C
}

func (r *Router[C]) CreateCaller(c C) *Caller[C] {
	return &Caller[C]{router: r, ctx: c}
}

func (c *Caller[C]) Query(ctx context.Context, path string, input any) (any, error) {
	return c.Call(ctx, envelope.Query, path, input)
}

func (c *Caller[C]) Mutation(ctx context.Context, path string, input any) (any, error) {
	return c.Call(ctx, envelope.Mutation, path, input)
}

func (c *Caller[C]) Subscription(ctx context.Context, path string, input any) (any, error) {
	return c.Call(ctx, envelope.Subscription, path, input)
}

// Call dispatches any call kind.
func (c *Caller[C]) Call(ctx context.Context, t procedure.Type, path string, input any) (any, error) {
	return c.router.Dispatch(ctx, DispatchOptions[C]{
		Type:  t,
		Path:  path,
		Ctx:   c.ctx,
		Input: input,
	})
}
