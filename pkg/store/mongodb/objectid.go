package mongodb

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectIDCodec carries primitive.ObjectID values in cursors as hex strings
// under the "oid" kind. Register it with pagination.WithValueCodec.
type ObjectIDCodec struct{}

func (ObjectIDCodec) Kind() string { return "oid" }

func (ObjectIDCodec) Accepts(v any) bool {
	_, ok := v.(primitive.ObjectID)
	return ok
}

func (ObjectIDCodec) Encode(v any) (json.RawMessage, error) {
	id, ok := v.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("expected ObjectID, got %T", v)
	}
	return json.Marshal(id.Hex())
}

func (ObjectIDCodec) Decode(raw json.RawMessage) (any, error) {
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, err
	}
	return primitive.ObjectIDFromHex(hex)
}
