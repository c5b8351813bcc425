package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedValue is returned by [RawSerializer] for values that are not strings or
// byte slices.
var ErrUnsupportedValue = errors.New("unsupported attribute value")

// ValueSerializer converts attribute values to and from their stored bytes.
type ValueSerializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
}

// JSONSerializer stores attribute values as JSON documents.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "json" }

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

// RawSerializer stores strings and byte slices verbatim.
type RawSerializer struct{}

func (RawSerializer) Name() string { return "raw" }

func (RawSerializer) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func (RawSerializer) Unmarshal(data []byte, dst any) error {
	switch t := dst.(type) {
	case *[]byte:
		out := make([]byte, len(data))
		copy(out, data)
		*t = out
	case *string:
		*t = string(data)
	case *any:
		*t = string(data)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, dst)
	}
	return nil
}

// SerializerByName returns the serializer registered under name.
func SerializerByName(name string) (ValueSerializer, bool) {
	switch name {
	case "", "json":
		return JSONSerializer{}, true
	case "raw":
		return RawSerializer{}, true
	default:
		return nil, false
	}
}
