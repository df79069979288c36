package transformer

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Payload is a result value. Over the wire it holds the raw bytes and the
// transformer to decode them with; in process it holds the resolver's value.
type Payload struct {
	raw      json.RawMessage
	value    any
	hasValue bool
	tr       Transformer
}

// RawPayload wraps wire bytes. A nil tr means JSON.
func RawPayload(raw json.RawMessage, tr Transformer) Payload {
	if tr == nil {
		tr = JSON()
	}
	return Payload{raw: raw, tr: tr}
}

// ValuePayload wraps an in-process value.
func ValuePayload(v any) Payload {
	return Payload{value: v, hasValue: true, tr: JSON()}
}

// IsZero reports whether p holds nothing at all.
func (p Payload) IsZero() bool {
	return !p.hasValue && p.raw == nil
}

// Decode stores the payload into v, which must be a non-nil pointer. An
// in-process value is assigned directly when its type allows and otherwise
// round-trips through the transformer.
func (p Payload) Decode(v any) error {
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", v)
	}

	if !p.hasValue {
		return p.transformer().Deserialize(p.raw, v)
	}

	elem := target.Elem()
	if p.value == nil {
		elem.SetZero()
		return nil
	}
	val := reflect.ValueOf(p.value)
	if val.Type().AssignableTo(elem.Type()) {
		elem.Set(val)
		return nil
	}
	if val.Kind() == reflect.Pointer && !val.IsNil() && val.Elem().Type().AssignableTo(elem.Type()) {
		elem.Set(val.Elem())
		return nil
	}

	raw, err := p.transformer().Serialize(p.value)
	if err != nil {
		return err
	}
	return p.transformer().Deserialize(raw, v)
}

// Raw returns the serialized form.
func (p Payload) Raw() (json.RawMessage, error) {
	if !p.hasValue {
		return p.raw, nil
	}
	return p.transformer().Serialize(p.value)
}

// Value returns the in-process value, or the wire bytes decoded into an any.
func (p Payload) Value() any {
	if p.hasValue {
		return p.value
	}
	var out any
	if err := p.transformer().Deserialize(p.raw, &out); err != nil {
		return nil
	}
	return out
}

func (p Payload) transformer() Transformer {
	if p.tr == nil {
		return JSON()
	}
	return p.tr
}
