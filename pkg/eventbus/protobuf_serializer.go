package eventbus

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufSerializer encodes payloads with Protocol Buffers. Values that are
// not proto messages, such as exported records, are carried as a
// google.protobuf.Struct built from their JSON form.
type ProtobufSerializer struct{}

// NewProtobufSerializer creates a new Protocol Buffers serializer.
func NewProtobufSerializer() *ProtobufSerializer {
	return &ProtobufSerializer{}
}

// Serialize converts v to protobuf bytes.
func (s *ProtobufSerializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: cannot serialize nil value", ErrInvalidData)
	}

	msg, ok := v.(proto.Message)
	if !ok {
		st, err := toStruct(v)
		if err != nil {
			return nil, err
		}
		msg = st
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protobuf serialization failed: %w", err)
	}

	return data, nil
}

// toStruct converts an object-shaped value to a Struct. Scalars and lists
// have no field names to carry and are rejected.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %T does not encode as an object", ErrUnsupportedType, v)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	return st, nil
}

// Deserialize converts protobuf bytes into target. A *map[string]any target
// is filled from a Struct payload.
func (s *ProtobufSerializer) Deserialize(data []byte, target any) error {
	if target == nil {
		return fmt.Errorf("%w: target cannot be nil", ErrInvalidData)
	}

	if m, ok := target.(*map[string]any); ok {
		st := &structpb.Struct{}
		if err := proto.Unmarshal(data, st); err != nil {
			return fmt.Errorf("protobuf deserialization failed: %w", err)
		}
		*m = st.AsMap()
		return nil
	}

	msg, ok := target.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: target must implement proto.Message", ErrUnsupportedType)
	}

	// Empty data is a message with every field at its default.
	if len(data) == 0 {
		proto.Reset(msg)
		return nil
	}

	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("protobuf deserialization failed: %w", err)
	}

	return nil
}

// ContentType returns the MIME type for Protocol Buffers serialization.
func (s *ProtobufSerializer) ContentType() string {
	return "application/protobuf"
}
