// Package procedure binds one resolver to an input parser and an ordered
// middleware chain.
package procedure

import (
	"context"
	"slices"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// Type is the call kind a procedure is registered under.
type Type = envelope.ProcedureType

const (
	Query        = envelope.Query
	Mutation     = envelope.Mutation
	Subscription = envelope.Subscription
)

// MiddlewareOptions is what a middleware sees of the call. Use a pointer type
// for C when middlewares need to enrich the context for the resolver.
type MiddlewareOptions[C any] struct {
	Ctx  C
	Type Type
	Path string
}

// Middleware runs before the resolver. A non-nil error short-circuits the call.
type Middleware[C any] func(ctx context.Context, opts MiddlewareOptions[C]) error

type ResolveOptions[C any] struct {
	Ctx   C
	Input any
	Type  Type
	Path  string
}

type Resolver[C any] func(ctx context.Context, opts ResolveOptions[C]) (any, error)

// Definition describes a procedure before registration. Input is nil, a
// func(any) (any, error), a Parser or a Validator.
type Definition[C any] struct {
	Input   any
	Resolve Resolver[C]
}

type CallOptions[C any] struct {
	Ctx   C
	Input any
	Type  Type
	Path  string
}

// Procedure is immutable once built.
type Procedure[C any] struct {
	resolve     Resolver[C]
	parse       ParseFunc
	middlewares []Middleware[C]
}

// New validates def and probes its input parser.
func New[C any](def Definition[C]) (*Procedure[C], error) {
	if def.Resolve == nil {
		return nil, errspkg.ErrMissingResolver
	}
	parse, err := probeParser(def.Input)
	if err != nil {
		return nil, err
	}
	return &Procedure[C]{
		resolve: def.Resolve,
		parse:   parse,
	}, nil
}

// ParseInput runs the parser. Every parser failure is a BAD_USER_INPUT error.
func (p *Procedure[C]) ParseInput(raw any) (any, error) {
	if p.parse == nil {
		return nil, nil
	}
	input, err := p.parse(raw)
	if err != nil {
		return nil, rpcerror.InputValidation(err)
	}
	return input, nil
}

// Call runs the middlewares in order, then parses the input and runs the
// resolver. A middleware error is returned before the input is looked at.
func (p *Procedure[C]) Call(ctx context.Context, opts CallOptions[C]) (any, error) {
	mwOpts := MiddlewareOptions[C]{Ctx: opts.Ctx, Type: opts.Type, Path: opts.Path}
	for _, mw := range p.middlewares {
		if err := mw(ctx, mwOpts); err != nil {
			return nil, err
		}
	}

	input, err := p.ParseInput(opts.Input)
	if err != nil {
		return nil, err
	}

	return p.resolve(ctx, ResolveOptions[C]{
		Ctx:   opts.Ctx,
		Input: input,
		Type:  opts.Type,
		Path:  opts.Path,
	})
}

// InheritMiddlewares returns a copy running parent before p's own middlewares.
// The resolver and parser are shared and p is left untouched.
func (p *Procedure[C]) InheritMiddlewares(parent []Middleware[C]) *Procedure[C] {
	if len(parent) == 0 {
		return p
	}
	merged := make([]Middleware[C], 0, len(parent)+len(p.middlewares))
	merged = append(merged, parent...)
	merged = append(merged, p.middlewares...)
	return &Procedure[C]{
		resolve:     p.resolve,
		parse:       p.parse,
		middlewares: merged,
	}
}

// Middlewares returns a copy of the middleware chain.
func (p *Procedure[C]) Middlewares() []Middleware[C] {
	return slices.Clone(p.middlewares)
}

// HasInput reports whether the procedure parses its input.
func (p *Procedure[C]) HasInput() bool {
	return p.parse != nil
}
