package rpcerror

import (
	"errors"
)

// ClientError is the only error type handed to client code.
type ClientError struct {
	Message string
	Code    Code
	Shape   *Shape
	// Data is Shape.Data decoded through the client's transformer.
	Data any
	// OriginalError never leaves the process that created it.
	OriginalError error
	// IsDone marks that no further results will follow.
	IsDone bool
	Status int
}

func (e *ClientError) Error() string {
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.OriginalError
}

// Is matches other client errors and server sentinels by code.
func (e *ClientError) Is(target error) bool {
	switch t := target.(type) {
	case *ClientError:
		return t.Code == e.Code
	case *Error:
		return t.Code == e.Code
	}
	return false
}

// FromOption sets the defaults From and FromShape apply.
type FromOption func(*fromOptions)

type fromOptions struct {
	done   bool
	status int
}

// WithDone marks the resulting error as terminal.
func WithDone(done bool) FromOption {
	return func(o *fromOptions) {
		o.done = done
	}
}

// WithStatus records the transport status the error arrived with.
func WithStatus(status int) FromOption {
	return func(o *fromOptions) {
		o.status = status
	}
}

func applyFromOptions(opts []FromOption) fromOptions {
	var o fromOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// From normalizes err. A *ClientError anywhere in the chain is returned as is,
// anything else becomes INTERNAL_SERVER_ERROR keeping err as OriginalError.
func From(err error, opts ...FromOption) *ClientError {
	if err == nil {
		return nil
	}

	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}

	o := applyFromOptions(opts)
	return &ClientError{
		Message:       err.Error(),
		Code:          CodeInternalServerError,
		OriginalError: err,
		IsDone:        o.done,
		Status:        o.status,
	}
}

// FromShape unwraps an error envelope verbatim.
func FromShape(shape Shape, opts ...FromOption) *ClientError {
	o := applyFromOptions(opts)

	status := o.status
	if shape.Status > 0 {
		status = shape.Status
	}
	if status == 0 {
		status = shape.Code.HTTPStatus()
	}

	cp := shape
	return &ClientError{
		Message: shape.Message,
		Code:    shape.Code,
		Shape:   &cp,
		IsDone:  o.done,
		Status:  status,
	}
}

// FromServer classifies a server error for an in-process caller. The shape
// matches what the wire would carry and err stays attached.
func FromServer(err error, path string, opts ...FromOption) *ClientError {
	if err == nil {
		return nil
	}

	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}

	ce = FromShape(Classify(err).Shape(path), opts...)
	ce.OriginalError = err
	return ce
}
