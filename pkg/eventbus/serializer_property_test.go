package eventbus

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property 1: Record Serialization Round-Trip
//
// For any record and either serializer, serializing then deserializing into
// a generic document yields the record's fields with the serializer's
// content type.
func TestProperty_RecordSerializationRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	for _, s := range []Serializer{NewJSONSerializer(), NewProtobufSerializer()} {
		properties.Property(s.ContentType()+" round-trip preserves record fields", prop.ForAll(
			func(id int32, name string, score int32) bool {
				in := profile{ID: int64(id), Name: name, Score: int64(score)}
				data, err := s.Serialize(in)
				if err != nil {
					t.Logf("serialize: %v", err)
					return false
				}
				var out map[string]any
				if err := s.Deserialize(data, &out); err != nil {
					t.Logf("deserialize: %v", err)
					return false
				}
				want := map[string]any{"id": float64(id), "name": name, "score": float64(score)}
				if !reflect.DeepEqual(out, want) {
					t.Logf("round trip: got %v, want %v", out, want)
					return false
				}
				return true
			},
			gen.Int32(),
			gen.AlphaString(),
			gen.Int32(),
		))
	}

	properties.TestingRun(t)
}
