package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/envelope"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/logging"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
	"github.com/drblury/flowrpc/internal/runtime/subscription"
)

// handleHTTP answers one request envelope. Subscriptions are single shot:
// the reply carries whatever the stream produced within SubscriptionTimeout.
func (s *Service) handleHTTP(w http.ResponseWriter, r *http.Request) {
	call := &Call{Request: r, Transport: TransportHTTP}

	if r.Method != http.MethodPost {
		s.reject(w, r, call, rpcerror.New(rpcerror.CodeMethodNotSupported,
			fmt.Sprintf("method %s is not supported, use POST", r.Method), nil))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.Conf.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, call, rpcerror.New(rpcerror.CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err))
			return
		}
		s.reject(w, r, call, rpcerror.New(rpcerror.CodeParseError, "failed to read request body", err))
		return
	}

	var req envelope.Request
	if err := jsoncodec.Unmarshal(body, &req); err != nil {
		s.reject(w, r, call, rpcerror.New(rpcerror.CodeParseError, "malformed request envelope", err))
		return
	}
	if rpcErr := fillCall(call, req); rpcErr != nil {
		s.reject(w, r, call, rpcErr)
		return
	}

	out, err := s.dispatch(r.Context(), call)
	if err == nil && call.Type == envelope.Subscription {
		out, err = s.collectOnce(r.Context(), out)
	}
	if err != nil {
		s.reject(w, r, call, err)
		return
	}

	data, err := s.transformer.Output.Serialize(out)
	if err != nil {
		s.reject(w, r, call, fmt.Errorf("failed to serialize output: %w", err))
		return
	}
	s.writeEnvelope(w, call, http.StatusOK, envelope.DataResponse(call.ID, data))
}

// fillCall copies the envelope onto call. Unknown methods, including
// subscription.stop outside a WebSocket, are METHOD_NOT_SUPPORTED.
func fillCall(call *Call, req envelope.Request) *rpcerror.Error {
	call.ID = req.ID
	call.Path = req.Params.Path
	call.Input = req.Params.Input

	typ, err := envelope.ParseProcedureType(req.Method)
	if err != nil {
		return rpcerror.New(rpcerror.CodeMethodNotSupported, err.Error(), err)
	}
	call.Type = typ
	return nil
}

func (s *Service) collectOnce(ctx context.Context, out any) (any, error) {
	sub, ok := out.(*subscription.Subscription)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", errspkg.ErrNotSubscription, out)
	}
	return sub.OnceOutputAndStop(ctx, s.Conf.SubscriptionTimeout)
}

// fail classifies err, reports it to OnError and logs it. Every failed call
// goes through here exactly once.
func (s *Service) fail(ctx context.Context, call *Call, err error) *rpcerror.Error {
	rpcErr := rpcerror.Classify(err)
	if ctx.Err() != nil && rpcErr.Code == rpcerror.CodeInternalServerError {
		rpcErr = rpcerror.Classify(ctx.Err())
	}
	s.reportError(call, rpcErr)

	fields := logging.LogFields{
		"id":        call.ID,
		"type":      call.Type.String(),
		"path":      call.Path,
		"code":      string(rpcErr.Code),
		"transport": call.Transport,
	}
	if rpcErr.HTTPStatus() >= http.StatusInternalServerError {
		s.Logger.Error("Procedure call failed", err, fields)
	} else {
		fields["error"] = rpcErr.Message
		s.Logger.Debug("Procedure call rejected", fields)
	}
	return rpcErr
}

// reject fails call with err and writes the error envelope.
func (s *Service) reject(w http.ResponseWriter, r *http.Request, call *Call, err error) {
	s.writeHTTPError(w, call, s.fail(r.Context(), call, err))
}

func (s *Service) writeHTTPError(w http.ResponseWriter, call *Call, rpcErr *rpcerror.Error) {
	s.writeEnvelope(w, call, rpcErr.HTTPStatus(), envelope.ErrorResponse(call.ID, rpcErr.Shape(call.Path)))
}

func (s *Service) writeEnvelope(w http.ResponseWriter, call *Call, status int, resp envelope.Response) {
	w.Header().Set("Content-Type", "application/json")
	if id := call.Metadata[MetadataKeyCorrelationID]; id != "" {
		w.Header().Set(HeaderCorrelationID, id)
	}
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, resp); err != nil {
		s.Logger.Error("Failed to write response envelope", err, logging.LogFields{"id": call.ID})
	}
}
