package procedure

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/transformer"
)

// ParseFunc is the function form of an input parser.
type ParseFunc func(raw any) (any, error)

// Parser is the parse-method form.
type Parser interface {
	Parse(raw any) (any, error)
}

// Validator is the validate-method form.
type Validator interface {
	ValidateSync(raw any) (any, error)
}

// probeParser checks the three forms in a fixed order: function, Parse,
// ValidateSync.
func probeParser(input any) (ParseFunc, error) {
	switch in := input.(type) {
	case nil:
		return nil, nil
	case ParseFunc:
		return in, nil
	case func(any) (any, error):
		return in, nil
	case Parser:
		return in.Parse, nil
	case Validator:
		return in.ValidateSync, nil
	default:
		return nil, errspkg.ErrNoValidator
	}
}

// String accepts string inputs only.
func String() ParseFunc {
	return func(raw any) (any, error) {
		return decodeAs[string](raw)
	}
}

// Decode accepts a T, a wire payload holding a T, or anything that converts to
// T through JSON.
func Decode[T any]() ParseFunc {
	return func(raw any) (any, error) {
		return decodeAs[T](raw)
	}
}

type protoParser struct {
	newMsg func() proto.Message
}

// Proto parses protobuf JSON into the message returned by newMsg.
func Proto(newMsg func() proto.Message) Parser {
	return protoParser{newMsg: newMsg}
}

func (p protoParser) Parse(raw any) (any, error) {
	msg := p.newMsg()
	if in, ok := raw.(proto.Message); ok {
		if in.ProtoReflect().Descriptor().FullName() != msg.ProtoReflect().Descriptor().FullName() {
			return nil, fmt.Errorf("expected %s, got %s", msg.ProtoReflect().Descriptor().FullName(), in.ProtoReflect().Descriptor().FullName())
		}
		return in, nil
	}

	data, err := rawBytes(raw)
	if err != nil {
		return nil, err
	}
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type validated[T any] struct {
	validate func(T) error
}

// Validated decodes into T and then runs validate.
func Validated[T any](validate func(T) error) Validator {
	return validated[T]{validate: validate}
}

func (v validated[T]) ValidateSync(raw any) (any, error) {
	out, err := decodeAs[T](raw)
	if err != nil {
		return nil, err
	}
	if v.validate != nil {
		if err := v.validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeAs[T any](raw any) (T, error) {
	var out T
	switch in := raw.(type) {
	case T:
		return in, nil
	case transformer.Payload:
		if in.IsZero() {
			return out, fmt.Errorf("expected %T, got no input", out)
		}
		err := in.Decode(&out)
		return out, err
	case json.RawMessage:
		err := jsoncodec.Unmarshal(in, &out)
		return out, err
	case nil:
		return out, fmt.Errorf("expected %T, got no input", out)
	}

	data, err := jsoncodec.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := jsoncodec.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("expected %T, got %T: %w", out, raw, err)
	}
	return out, nil
}

func rawBytes(raw any) ([]byte, error) {
	switch in := raw.(type) {
	case transformer.Payload:
		return in.Raw()
	case json.RawMessage:
		return in, nil
	case []byte:
		return in, nil
	case string:
		return []byte(in), nil
	case nil:
		return nil, fmt.Errorf("expected a message, got no input")
	default:
		return jsoncodec.Marshal(raw)
	}
}
