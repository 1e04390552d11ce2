package pagination

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// KeyValue is one projected sort field inside a cursor.
type KeyValue struct {
	Field string
	Value any
}

// Position is a decoded cursor: the sort-field values of the last item a
// client saw, in SortSpec order.
type Position []KeyValue

// Fields returns the field names in order.
func (p Position) Fields() []string {
	names := make([]string, len(p))
	for i, kv := range p {
		names[i] = kv.Field
	}
	return names
}

// Get returns the value recorded for field.
func (p Position) Get(field string) (any, bool) {
	for _, kv := range p {
		if kv.Field == field {
			return kv.Value, true
		}
	}
	return nil, false
}

// Built-in value kinds carried on the wire.
const (
	kindNull   = "n"
	kindString = "s"
	kindBool   = "b"
	kindInt    = "i"
	kindUint   = "u"
	kindFloat  = "f"
	kindTime   = "t"
)

// ValueCodec teaches a Codec to carry a store-specific value type, for example
// a database object identifier.
type ValueCodec interface {
	// Kind is the short tag written next to the value. It must not collide
	// with the built-in kinds (n, s, b, i, u, f, t).
	Kind() string
	// Accepts reports whether v should be encoded by this codec.
	Accepts(v any) bool
	Encode(v any) (json.RawMessage, error)
	Decode(raw json.RawMessage) (any, error)
}

type wireEntry struct {
	Field string          `json:"f"`
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v"`
}

const signatureSeparator = "."

// Codec turns positions into opaque URL-safe tokens and back. A Codec is
// immutable once built and safe for concurrent use.
type Codec struct {
	extensions map[string]ValueCodec
	ordered    []ValueCodec
	signingKey []byte
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithValueCodec registers an extension value kind.
func WithValueCodec(vc ValueCodec) CodecOption {
	return func(c *Codec) {
		if vc == nil {
			return
		}
		c.extensions[vc.Kind()] = vc
		c.ordered = append(c.ordered, vc)
	}
}

// WithSigningKey appends an HMAC-SHA256 tag to every token. Tokens with a
// missing or wrong tag decode as absent.
func WithSigningKey(key []byte) CodecOption {
	return func(c *Codec) {
		if len(key) == 0 {
			c.signingKey = nil
			return
		}
		c.signingKey = append([]byte(nil), key...)
	}
}

// NewCodec builds a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{extensions: make(map[string]ValueCodec)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode projects item onto spec and returns the opaque cursor. It fails
// without producing a token if any field value cannot be represented.
func Encode[T any](c *Codec, item T, spec SortSpec[T]) (string, error) {
	pos, err := spec.PositionOf(item)
	if err != nil {
		return "", err
	}
	return c.EncodePosition(pos)
}

// EncodePosition serialises an already projected position.
func (c *Codec) EncodePosition(pos Position) (string, error) {
	if len(pos) == 0 {
		return "", ErrEmptySortSpec
	}
	entries := make([]wireEntry, len(pos))
	for i, kv := range pos {
		kind, raw, err := encodeValue(kv.Value, c.ordered)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", kv.Field, err)
		}
		entries[i] = wireEntry{Field: kv.Field, Kind: kind, Value: raw}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(payload)
	if c.signingKey != nil {
		token += signatureSeparator + c.sign(token)
	}
	return token, nil
}

// Decode parses a token. ok is false for any malformed, tampered or empty
// token; callers treat that as "no cursor" and serve the first page.
func (c *Codec) Decode(token string) (pos Position, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			pos, ok = nil, false
		}
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}

	body := token
	if c.signingKey != nil {
		idx := strings.LastIndex(token, signatureSeparator)
		if idx < 0 {
			return nil, false
		}
		body = token[:idx]
		if !hmac.Equal([]byte(token[idx+1:]), []byte(c.sign(body))) {
			return nil, false
		}
	} else if strings.Contains(token, signatureSeparator) {
		return nil, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	var entries []wireEntry
	if err := json.Unmarshal(payload, &entries); err != nil || len(entries) == 0 {
		return nil, false
	}

	pos = make(Position, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Field == "" {
			return nil, false
		}
		if _, dup := seen[e.Field]; dup {
			return nil, false
		}
		seen[e.Field] = struct{}{}
		v, err := c.decodeValue(e.Kind, e.Value)
		if err != nil {
			return nil, false
		}
		pos = append(pos, KeyValue{Field: e.Field, Value: v})
	}
	return pos, true
}

func (c *Codec) sign(body string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encodeValue(v any, extensions []ValueCodec) (string, json.RawMessage, error) {
	for _, ext := range extensions {
		if ext.Accepts(v) {
			raw, err := ext.Encode(v)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
			}
			return ext.Kind(), raw, nil
		}
	}

	switch x := Normalize(v).(type) {
	case nil:
		return kindNull, json.RawMessage("null"), nil
	case string:
		raw, err := json.Marshal(x)
		return kindString, raw, err
	case bool:
		raw, err := json.Marshal(x)
		return kindBool, raw, err
	case int64:
		return kindInt, json.RawMessage(strconv.FormatInt(x, 10)), nil
	case uint64:
		return kindUint, json.RawMessage(strconv.FormatUint(x, 10)), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", nil, fmt.Errorf("%w: non-finite float", ErrUnsupportedValue)
		}
		return kindFloat, json.RawMessage(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case time.Time:
		raw, err := json.Marshal(x.UTC().Format(time.RFC3339Nano))
		return kindTime, raw, err
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

var errBadValue = errors.New("malformed cursor value")

func (c *Codec) decodeValue(kind string, raw json.RawMessage) (any, error) {
	switch kind {
	case kindNull:
		if string(raw) != "null" {
			return nil, errBadValue
		}
		return nil, nil
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case kindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case kindInt:
		return strconv.ParseInt(string(raw), 10, 64)
	case kindUint:
		return strconv.ParseUint(string(raw), 10, 64)
	case kindFloat:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errBadValue
		}
		return f, nil
	case kindTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	}
	if ext, ok := c.extensions[kind]; ok {
		return ext.Decode(raw)
	}
	return nil, errBadValue
}
