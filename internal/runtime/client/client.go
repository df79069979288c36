// Package client issues operations through a link chain.
package client

import (
	"context"
	"net/http"
	"time"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/config"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/ids"
	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/links"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
	"github.com/drblury/flowrpc/internal/runtime/observable"
	"github.com/drblury/flowrpc/internal/runtime/retry"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

// Options configures a Client. Either URL or Links is required; URL alone
// means a single HTTPLink.
type Options struct {
	URL         string
	Links       []link.Link
	Headers     link.HeadersFunc
	Transformer transformer.Pair
	HTTPClient  link.Doer
	Dialer      link.Dialer
	Retry       retry.Config
	Logger      logging.ServiceLogger
}

// StaticHeaders sends the same headers with every request.
func StaticHeaders(md metadata.Metadata) link.HeadersFunc {
	return func(context.Context) metadata.Metadata {
		return md.Clone()
	}
}

type Client struct {
	rt     *link.Runtime
	links  []link.OperationLink
	retry  retry.Config
	logger logging.ServiceLogger
}

// New resolves every default once and binds the links.
func New(opts Options) (*Client, error) {
	chain := opts.Links
	if len(chain) == 0 {
		if opts.URL == "" {
			return nil, errspkg.ErrLinksRequired
		}
		chain = []link.Link{links.HTTPLink(links.HTTPLinkOptions{URL: opts.URL})}
	}

	rt := link.Runtime{
		Transformer: opts.Transformer,
		Headers:     opts.Headers,
		HTTPClient:  opts.HTTPClient,
		Dialer:      opts.Dialer,
		Logger:      opts.Logger,
	}.WithDefaults()

	return &Client{
		rt:     rt,
		links:  link.Bind(rt, chain),
		retry:  opts.Retry.WithDefaults(),
		logger: rt.Logger,
	}, nil
}

// NewFromConfig builds an HTTP client for conf.Endpoint.
func NewFromConfig(conf *config.Config, logger logging.ServiceLogger) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	c := conf.WithDefaults()
	return New(Options{
		URL:        c.Endpoint,
		HTTPClient: &http.Client{Timeout: c.RequestTimeout},
		Retry: retry.Config{
			MaxRetries:          c.RetryMaxRetries,
			InitialInterval:     c.RetryInitialInterval,
			MaxInterval:         c.RetryMaxInterval,
			RandomizationFactor: c.RetryRandomizationFactor,
		},
		Logger: logger,
	})
}

// RequestOption customizes one operation.
type RequestOption func(*link.Operation)

// WithOperationContext attaches link-local values to the operation.
func WithOperationContext(values link.OperationContext) RequestOption {
	return func(op *link.Operation) {
		op.Context = values
	}
}

// Execute starts an operation and hands back its observable.
func (c *Client) Execute(ctx context.Context, typ envelope.ProcedureType, path string, input any, opts ...RequestOption) *link.ObservableOperation {
	op := link.Operation{
		ID:      ids.CreateULID(),
		Type:    typ,
		Path:    path,
		Input:   input,
		Context: link.OperationContext{},
	}
	for _, opt := range opts {
		opt(&op)
	}
	return link.Execute(ctx, c.links, op)
}

type outcome struct {
	payload transformer.Payload
	err     error
}

// Request waits for exactly one data or error result and always ends the
// operation. A stream that stops before any data fails with
// ErrOperationDone.
func (c *Client) Request(ctx context.Context, typ envelope.ProcedureType, path string, input any, opts ...RequestOption) (transformer.Payload, error) {
	obs := c.Execute(ctx, typ, path, input, opts...)
	defer obs.Done()

	if res, ok := obs.Get(); ok && res.Type == link.ResultData {
		return res.Data, nil
	}

	ch := make(chan outcome, 1)
	send := func(o outcome) {
		select {
		case ch <- o:
		default:
		}
	}
	obs.Subscribe(observable.Callbacks[link.Result]{
		OnNext: func(res link.Result) {
			switch res.Type {
			case link.ResultData:
				send(outcome{payload: res.Data})
			case link.ResultStopped:
				send(outcome{err: completedWithoutData()})
			}
		},
		OnError: func(err error) { send(outcome{err: rpcerror.From(err)}) },
		OnDone:  func() { send(outcome{err: completedWithoutData()}) },
	})

	select {
	case o := <-ch:
		return o.payload, o.err
	case <-ctx.Done():
		return transformer.Payload{}, rpcerror.FromServer(ctx.Err(), path, rpcerror.WithDone(true))
	}
}

func completedWithoutData() error {
	return rpcerror.From(errspkg.ErrOperationDone, rpcerror.WithDone(true))
}

func decodeResult[T any](payload transformer.Payload, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if decodeErr := payload.Decode(&out); decodeErr != nil {
		return out, rpcerror.From(decodeErr, rpcerror.WithDone(true))
	}
	return out, nil
}

// Query runs a query and decodes its output into T.
func Query[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) (T, error) {
	return decodeResult[T](c.Request(ctx, envelope.Query, path, input, opts...))
}

// Mutation runs a mutation and decodes its output into T.
func Mutation[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) (T, error) {
	return decodeResult[T](c.Request(ctx, envelope.Mutation, path, input, opts...))
}

// SubscriptionOnce fetches the next batch of subscription outputs. A TIMEOUT
// answer is the server's reconnect hint: the call is reissued at once with
// the same input until ctx ends.
func SubscriptionOnce[T any](ctx context.Context, c *Client, path string, input any, opts ...RequestOption) ([]T, error) {
	for {
		out, err := decodeResult[[]T](c.Request(ctx, envelope.Subscription, path, input, opts...))
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, rpcerror.FromServer(ctx.Err(), path, rpcerror.WithDone(true))
		}
		if ce := rpcerror.From(err); ce.Code == rpcerror.CodeTimeout {
			c.logger.Trace("Subscription timed out, reconnecting", logging.LogFields{"path": path})
			continue
		}
		return nil, err
	}
}

// Stream runs a streaming subscription. Init results are not delivered;
// errors arrive at OnError as *rpcerror.ClientError. The returned function
// ends the operation.
func (c *Client) Stream(ctx context.Context, path string, input any, cb observable.Callbacks[link.Result], opts ...RequestOption) (unsubscribe func()) {
	obs := c.Execute(ctx, envelope.Subscription, path, input, opts...)
	obs.Subscribe(observable.Callbacks[link.Result]{
		OnNext: func(res link.Result) {
			if res.Type == link.ResultInit || cb.OnNext == nil {
				return
			}
			cb.OnNext(res)
		},
		OnError: cb.OnError,
		OnDone:  cb.OnDone,
	})
	return obs.Done
}

// RetryDelay is the wait before retry attempt. Attempt 0 is immediate.
func RetryDelay(cfg retry.Config, attempt int) time.Duration {
	return retry.Delay(cfg, attempt)
}
