package eventbus

import (
	"errors"
	"fmt"
	"strings"
)

// Common serialization errors
var (
	// ErrInvalidData is returned when the data cannot be serialized or deserialized
	ErrInvalidData = errors.New("invalid data for serialization")

	// ErrUnsupportedType is returned when the type is not supported by the serializer
	ErrUnsupportedType = errors.New("unsupported type for serialization")
)

// Serializer converts message payloads to and from bytes.
type Serializer interface {
	Serialize(v any) ([]byte, error)

	// Deserialize decodes data into target, which must be a pointer.
	Deserialize(data []byte, target any) error

	// ContentType returns the MIME type written to message headers.
	ContentType() string
}

// NewSerializer returns the serializer for a configured format: "json"
// (the default) or "protobuf".
func NewSerializer(format string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return NewJSONSerializer(), nil
	case "protobuf", "proto":
		return NewProtobufSerializer(), nil
	default:
		return nil, fmt.Errorf("unsupported serialization format %q (supported: json, protobuf)", format)
	}
}
