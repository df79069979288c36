// Package transformer converts procedure inputs and outputs to and from their
// wire representation.
package transformer

import (
	"bytes"
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
)

// Transformer is a serialize/deserialize pair.
type Transformer interface {
	Serialize(v any) (json.RawMessage, error)
	Deserialize(raw json.RawMessage, v any) error
}

// Pair holds one transformer for procedure inputs and one for outputs. The
// client serializes with Input and deserializes with Output; the server does
// the opposite.
type Pair struct {
	Input  Transformer
	Output Transformer
}

// Both applies t in both directions.
func Both(t Transformer) Pair {
	return Pair{Input: t, Output: t}
}

// WithDefaults fills missing directions with JSON.
func (p Pair) WithDefaults() Pair {
	if p.Input == nil {
		p.Input = JSON()
	}
	if p.Output == nil {
		p.Output = JSON()
	}
	return p
}

type jsonTransformer struct{}

// JSON encodes through the sonic-backed jsoncodec.
func JSON() Transformer {
	return jsonTransformer{}
}

func (jsonTransformer) Serialize(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return jsoncodec.Raw(v)
}

func (jsonTransformer) Deserialize(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return jsoncodec.Unmarshal(raw, v)
}

type protoJSONTransformer struct {
	marshal   protojson.MarshalOptions
	unmarshal protojson.UnmarshalOptions
}

// ProtoJSON uses protojson for proto.Message values and JSON for the rest.
func ProtoJSON() Transformer {
	return protoJSONTransformer{
		unmarshal: protojson.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (t protoJSONTransformer) Serialize(v any) (json.RawMessage, error) {
	if msg, ok := v.(proto.Message); ok {
		data, err := t.marshal.Marshal(msg)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
	return JSON().Serialize(v)
}

func (t protoJSONTransformer) Deserialize(raw json.RawMessage, v any) error {
	if msg, ok := v.(proto.Message); ok {
		if jsoncodec.IsNull(raw) {
			return nil
		}
		return t.unmarshal.Unmarshal(raw, msg)
	}
	return JSON().Deserialize(raw, v)
}
