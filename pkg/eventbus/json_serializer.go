package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONSerializer writes compact JSON without HTML escaping, so URLs in
// exported records reach consumers byte for byte.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: cannot serialize nil value", ErrInvalidData)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json serialization failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (s *JSONSerializer) Deserialize(data []byte, target any) error {
	switch {
	case target == nil:
		return fmt.Errorf("%w: target cannot be nil", ErrInvalidData)
	case len(bytes.TrimSpace(data)) == 0:
		return fmt.Errorf("%w: cannot deserialize empty data", ErrInvalidData)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("json deserialization failed: %w", err)
	}
	return nil
}

func (s *JSONSerializer) ContentType() string {
	return "application/json"
}
