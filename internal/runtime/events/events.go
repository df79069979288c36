// Package events converts values to and from watermill messages on the
// event bus.
package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/flowrpc/internal/runtime/errors"
	"github.com/drblury/flowrpc/internal/runtime/ids"
	"github.com/drblury/flowrpc/internal/runtime/jsoncodec"
	"github.com/drblury/flowrpc/internal/runtime/metadata"
)

// Reserved metadata keys.
const (
	// MetadataKeyCorrelationID tracks related calls and events across services.
	MetadataKeyCorrelationID = "correlation_id"
	// MetadataKeyEventSchema names the Go type or proto message of the payload.
	MetadataKeyEventSchema = "event_message_schema"
	MetadataKeyContentType = "content_type"

	ContentTypeJSON      = "application/json"
	ContentTypeProtoJSON = "application/protobuf+json"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// NewJSONMessage encodes v as JSON.
func NewJSONMessage(v any, md metadata.Metadata) (*message.Message, error) {
	if v == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return newMessage(payload, md, fmt.Sprintf("%T", v), ContentTypeJSON), nil
}

// NewProtoMessage encodes event as protobuf JSON.
func NewProtoMessage(event proto.Message, md metadata.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	schema := string(event.ProtoReflect().Descriptor().FullName())
	return newMessage(payload, md, schema, ContentTypeProtoJSON), nil
}

func newMessage(payload []byte, md metadata.Metadata, schema, contentType string) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetadataKeyEventSchema, schema)
	msg.Metadata.Set(MetadataKeyContentType, contentType)
	metadata.Stamp(msg, md)
	return msg
}

// Decoder turns a message into a subscription output.
type Decoder func(msg *message.Message) (any, error)

// DecodeJSON decodes payloads into T.
func DecodeJSON[T any]() Decoder {
	return func(msg *message.Message) (any, error) {
		var out T
		if err := jsoncodec.Unmarshal(msg.Payload, &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
		}
		return out, nil
	}
}

// DecodeProto decodes protobuf JSON payloads into fresh copies of prototype.
// Messages carrying a different schema are rejected.
func DecodeProto[T proto.Message](prototype T) Decoder {
	want := string(prototype.ProtoReflect().Descriptor().FullName())
	return func(msg *message.Message) (any, error) {
		if schema := msg.Metadata.Get(MetadataKeyEventSchema); schema != "" && schema != want {
			return nil, fmt.Errorf("unexpected event schema %q, want %q", schema, want)
		}
		out := prototype.ProtoReflect().New().Interface()
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(msg.Payload, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proto payload: %w", err)
		}
		return out.(T), nil
	}
}

// Metadata returns a copy of the message metadata.
func Metadata(msg *message.Message) metadata.Metadata {
	return metadata.FromWatermill(msg.Metadata)
}
