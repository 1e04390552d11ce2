package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func positionsEqual(t *testing.T, want, got Position) bool {
	t.Helper()
	if len(want) != len(got) {
		t.Logf("length mismatch: want %d, got %d", len(want), len(got))
		return false
	}
	for i := range want {
		if want[i].Field != got[i].Field {
			t.Logf("field %d: want %q, got %q", i, want[i].Field, got[i].Field)
			return false
		}
		cmp, err := Compare(want[i].Value, got[i].Value)
		if err != nil || cmp != 0 {
			t.Logf("field %q: want %#v, got %#v (err %v)", want[i].Field, want[i].Value, got[i].Value, err)
			return false
		}
	}
	return true
}

func TestCodec_RoundTripKinds(t *testing.T) {
	codec := NewCodec()
	ts := time.Date(2024, 3, 9, 18, 30, 15, 123456789, time.FixedZone("CET", 3600))

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"string", "alice", "alice"},
		{"unicode string", "café 💘", "café 💘"},
		{"empty string", "", ""},
		{"int", 42, int64(42)},
		{"negative int64", int64(-9007199254740993), int64(-9007199254740993)},
		{"uint64 max", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"float", 3.25, 3.25},
		{"bool", true, true},
		{"time keeps nanoseconds in UTC", ts, ts.UTC()},
		{"nil", nil, nil},
		{"named int type", Direction(1), int64(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := codec.EncodePosition(Position{{Field: "v", Value: tt.value}})
			if err != nil {
				t.Fatalf("EncodePosition() error = %v", err)
			}
			pos, ok := codec.Decode(token)
			if !ok {
				t.Fatalf("Decode(%q) reported malformed", token)
			}
			got := pos[0].Value
			if wantTime, isTime := tt.want.(time.Time); isTime {
				gotTime, ok := got.(time.Time)
				if !ok || !gotTime.Equal(wantTime) || gotTime.Location() != time.UTC {
					t.Errorf("got %#v, want %v in UTC", got, wantTime)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %#v (%T), want %#v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCodec_TokenIsURLSafe(t *testing.T) {
	token, err := NewCodec().EncodePosition(Position{{Field: "name", Value: "??>>//++"}, {Field: "_id", Value: 7}})
	if err != nil {
		t.Fatalf("EncodePosition() error = %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token %q is not unpadded base64url", token)
	}
}

func TestCodec_EncodeFromSortSpec(t *testing.T) {
	type match struct {
		Score int
		ID    string
	}
	spec := MustSortSpec(
		By("score", Desc, func(m match) any { return m.Score }),
		By("_id", Asc, func(m match) any { return m.ID }).Unique(),
	)
	codec := NewCodec()

	token, err := Encode(codec, match{Score: 10, ID: "u2"}, spec)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	pos, ok := codec.Decode(token)
	if !ok {
		t.Fatal("Decode() reported malformed")
	}
	want := Position{{Field: "score", Value: int64(10)}, {Field: "_id", Value: "u2"}}
	if !positionsEqual(t, want, pos) {
		t.Errorf("decoded %v, want %v", pos, want)
	}
}

func TestCodec_EncodeUnsupportedValue(t *testing.T) {
	codec := NewCodec()
	tests := []struct {
		name  string
		value any
	}{
		{"struct", struct{ A int }{1}},
		{"slice", []int{1}},
		{"NaN", math.NaN()},
		{"infinity", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := codec.EncodePosition(Position{{Field: "ok", Value: 1}, {Field: "bad", Value: tt.value}})
			if !errors.Is(err, ErrUnsupportedValue) {
				t.Fatalf("expected ErrUnsupportedValue, got %v", err)
			}
			if token != "" {
				t.Errorf("expected no token on failure, got %q", token)
			}
			if !strings.Contains(err.Error(), `"bad"`) {
				t.Errorf("error %q does not name the field", err)
			}
		})
	}
}

func TestCodec_DecodeMalformed(t *testing.T) {
	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	codec := NewCodec()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "%%%not-base64%%%"},
		{"standard padding", base64.StdEncoding.EncodeToString([]byte(`[{"f":"a","k":"s","v":"x"}]`)) + "=="},
		{"not json", encode("hello")},
		{"json null", encode("null")},
		{"empty list", encode("[]")},
		{"object instead of list", encode(`{"f":"a"}`)},
		{"unknown kind", encode(`[{"f":"a","k":"zz","v":1}]`)},
		{"empty field", encode(`[{"f":"","k":"s","v":"x"}]`)},
		{"duplicate field", encode(`[{"f":"a","k":"s","v":"x"},{"f":"a","k":"s","v":"y"}]`)},
		{"int as string", encode(`[{"f":"a","k":"i","v":"12"}]`)},
		{"int overflow", encode(`[{"f":"a","k":"i","v":99999999999999999999}]`)},
		{"bad time", encode(`[{"f":"a","k":"t","v":"yesterday"}]`)},
		{"null kind with value", encode(`[{"f":"a","k":"n","v":1}]`)},
		{"signed token on unsigned codec", encode(`[{"f":"a","k":"s","v":"x"}]`) + ".c2ln"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, ok := codec.Decode(tt.token)
			if ok || pos != nil {
				t.Errorf("Decode(%q) = %v, %v; want nil, false", tt.token, pos, ok)
			}
		})
	}
}

func TestCodec_SigningKey(t *testing.T) {
	signed := NewCodec(WithSigningKey([]byte("k1")))
	other := NewCodec(WithSigningKey([]byte("k2")))
	plain := NewCodec()
	pos := Position{{Field: "score", Value: 10}, {Field: "_id", Value: "a"}}

	token, err := signed.EncodePosition(pos)
	if err != nil {
		t.Fatalf("EncodePosition() error = %v", err)
	}
	if _, ok := signed.Decode(token); !ok {
		t.Error("signed codec rejected its own token")
	}
	if _, ok := other.Decode(token); ok {
		t.Error("token accepted under a different key")
	}
	if _, ok := plain.Decode(token); ok {
		t.Error("unsigned codec accepted a signed token")
	}

	unsigned, _ := plain.EncodePosition(pos)
	if _, ok := signed.Decode(unsigned); ok {
		t.Error("signed codec accepted a token without signature")
	}

	body := token[:strings.LastIndex(token, ".")]
	tampered, _ := plain.EncodePosition(Position{{Field: "score", Value: 99}, {Field: "_id", Value: "a"}})
	if _, ok := signed.Decode(tampered + token[len(body):]); ok {
		t.Error("signed codec accepted a tampered payload")
	}
}

type ticket struct{ N int }

type ticketCodec struct{}

func (ticketCodec) Kind() string { return "tk" }
func (ticketCodec) Accepts(v any) bool {
	_, ok := v.(ticket)
	return ok
}
func (ticketCodec) Encode(v any) (json.RawMessage, error) { return json.Marshal(v.(ticket).N) }
func (ticketCodec) Decode(raw json.RawMessage) (any, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return ticket{N: n}, nil
}

func TestCodec_ValueCodecExtension(t *testing.T) {
	codec := NewCodec(WithValueCodec(ticketCodec{}))
	token, err := codec.EncodePosition(Position{{Field: "t", Value: ticket{N: 5}}})
	if err != nil {
		t.Fatalf("EncodePosition() error = %v", err)
	}
	pos, ok := codec.Decode(token)
	if !ok {
		t.Fatal("Decode() reported malformed")
	}
	if got, isTicket := pos[0].Value.(ticket); !isTicket || got.N != 5 {
		t.Errorf("decoded %#v, want ticket{5}", pos[0].Value)
	}
	if _, ok := NewCodec().Decode(token); ok {
		t.Error("codec without the extension accepted its kind")
	}
}

// Property 1: Cursor round trip
// For any position built from supported kinds, Decode(Encode(p)) reproduces p.
func TestProperty_CursorRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	codec := NewCodec(WithSigningKey([]byte("secret")))

	genValue := gen.OneGenOf(
		gen.AlphaString().Map(func(s string) any { return s }),
		gen.Int64().Map(func(n int64) any { return n }),
		gen.UInt64().Map(func(n uint64) any { return n }),
		gen.Float64Range(-1e12, 1e12).Map(func(f float64) any { return f }),
		gen.Bool().Map(func(b bool) any { return b }),
		gen.Int64Range(0, 4102444800*int64(time.Second)).Map(func(n int64) any { return time.Unix(0, n).UTC() }),
		gen.Bool().Map(func(bool) any { return nil }),
	)

	properties.Property("decode(encode(p)) == p", prop.ForAll(
		func(values []any) bool {
			if len(values) == 0 {
				return true
			}
			pos := make(Position, len(values))
			for i, v := range values {
				pos[i] = KeyValue{Field: "f" + string(rune('a'+i%26)) + strings.Repeat("x", i/26), Value: v}
			}
			token, err := codec.EncodePosition(pos)
			if err != nil {
				t.Logf("EncodePosition() error = %v", err)
				return false
			}
			got, ok := codec.Decode(token)
			return ok && positionsEqual(t, pos, got)
		},
		gen.SliceOfN(4, genValue),
	))

	properties.Property("arbitrary strings never decode into a partial position", prop.ForAll(
		func(s string) bool {
			pos, ok := NewCodec().Decode(s)
			return (ok && len(pos) > 0) || (!ok && pos == nil)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
