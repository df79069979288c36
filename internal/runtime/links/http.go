// Package links provides the built-in client links.
package links

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/ids"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/link"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// HTTPLinkOptions configures HTTPLink.
type HTTPLinkOptions struct {
	// URL is the server's base path, for example http://localhost:8080/rpc.
	URL string
}

// HTTPLink is a terminal link that POSTs one request envelope per operation.
// Transport failures are reported as done errors.
func HTTPLink(opts HTTPLinkOptions) link.Link {
	return func(rt *link.Runtime) link.OperationLink {
		return func(c link.Call) {
			go func() {
				res := sendHTTP(c.Context, rt, opts.URL, c.Op)
				c.Prev(res)
			}()
		}
	}
}

// NewRequestEnvelope serializes op with the runtime's input transformer.
func NewRequestEnvelope(rt *link.Runtime, op link.Operation) (envelope.Request, error) {
	id := op.ID
	if id == "" {
		id = ids.CreateULID()
	}
	req := envelope.Request{
		ID:     id,
		Method: string(op.Type),
		Params: envelope.Params{Path: op.Path},
	}
	if op.Input != nil {
		raw, err := rt.Transformer.WithDefaults().Input.Serialize(op.Input)
		if err != nil {
			return envelope.Request{}, fmt.Errorf("serialize input for %q: %w", op.Path, err)
		}
		req.Params.Input = raw
	}
	return req, nil
}

func sendHTTP(ctx context.Context, rt *link.Runtime, url string, op link.Operation) link.Result {
	body, err := NewRequestEnvelope(rt, op)
	if err != nil {
		return link.ErrorResult(err, rpcerror.WithDone(true))
	}
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		return link.ErrorResult(err, rpcerror.WithDone(true))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return link.ErrorResult(err, rpcerror.WithDone(true))
	}
	req.Header.Set("Content-Type", "application/json")
	rt.Headers(ctx).ApplyTo(req.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := rt.HTTPClient.Do(req)
	if err != nil {
		return link.ErrorResult(err, rpcerror.WithDone(true))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var env envelope.Response
	if err := jsoncodec.Decode(resp.Body, &env); err != nil {
		rt.Logger.Error("Failed to decode response envelope", err, logging.LogFields{
			"path":   op.Path,
			"status": resp.StatusCode,
		})
		return link.ErrorResult(
			fmt.Errorf("decode response for %q (status %d): %w", op.Path, resp.StatusCode, err),
			rpcerror.WithDone(true),
			rpcerror.WithStatus(resp.StatusCode),
		)
	}
	return link.TransformResponse(env, rt)
}
