package store

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// --------------------------------------------------------------------------
// Value Kinds
// --------------------------------------------------------------------------

// Kind identifies the variant of a Value. The numbers double as protobuf
// field numbers in the binary encoding and must not change.
type Kind uint8

const (
	KindNone    Kind = iota // zero Value, never stored
	KindString              // UTF-8 text
	KindBytes               // raw binary data
	KindInteger             // signed 64 bit integer
	KindFloat               // 64 bit float
	KindBool                // boolean
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBytes:
		return "binary"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "none"
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "string", "str":
		return KindString, nil
	case "binary", "bytes":
		return KindBytes, nil
	case "integer", "int":
		return KindInteger, nil
	case "float":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	default:
		return KindNone, fmt.Errorf("unknown value type %q (expected string, binary, integer, float or bool)", s)
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is an immutable tagged union over string, binary, integer, float and
// bool. Values are compared with Equal, never with ==.
//
// Thread-safety: Values can be shared between goroutines, no method mutates
// the receiver (except the Unmarshal* methods on a fresh Value).
type Value struct {
	kind Kind
	str  string // KindString
	raw  []byte // KindBytes, never aliased with caller memory
	num  uint64 // KindInteger, KindFloat (bits), KindBool (0/1)
}

// Constructors

func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewBytes copies b. A nil or empty slice results in an empty binary value.
func NewBytes(b []byte) Value {
	v := Value{kind: KindBytes}
	if len(b) > 0 {
		v.raw = slices.Clone(b)
	}
	return v
}

func NewInt(i int64) Value { return Value{kind: KindInteger, num: uint64(i)} }

func NewFloat(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

func NewBool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// ParseValue converts the textual representation s into a Value of the given kind
func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindString:
		return NewString(s), nil
	case KindBytes:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("binary values must be base64 encoded: %w", err)
		}
		return NewBytes(b), nil
	case KindInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid integer: %w", err)
		}
		return NewInt(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float: %w", err)
		}
		return NewFloat(f), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool: %w", err)
		}
		return NewBool(b), nil
	default:
		return Value{}, fmt.Errorf("can't parse a value of kind %s", kind)
	}
}

// Accessors

func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds one of the five variants
func (v Value) IsValid() bool { return v.kind != KindNone }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBytes returns a copy of the binary payload
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return slices.Clone(v.raw), true
}

func (v Value) AsInt() (int64, bool) { return int64(v.num), v.kind == KindInteger }

func (v Value) AsFloat() (float64, bool) { return math.Float64frombits(v.num), v.kind == KindFloat }

func (v Value) AsBool() (bool, bool) { return v.num == 1, v.kind == KindBool }

// Equal reports whether both values have the same kind and payload.
// Floats are compared bitwise, so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	default:
		return v.num == o.num
	}
}

// Size returns the payload size in bytes
func (v Value) Size() int {
	switch v.kind {
	case KindString:
		return len(v.str)
	case KindBytes:
		return len(v.raw)
	case KindNone:
		return 0
	case KindBool:
		return 1
	default:
		return 8
	}
}

// String renders the payload for humans (binary as base64)
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.raw)
	case KindInteger:
		return strconv.FormatInt(int64(v.num), 10)
	case KindFloat:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.num == 1)
	default:
		return "<none>"
	}
}

// --------------------------------------------------------------------------
// Binary encoding (protobuf wire format)
// --------------------------------------------------------------------------

/*
	A Value is encoded as a protobuf message with a single oneof field:

		string  = 1 (bytes)
		binary  = 2 (bytes)
		integer = 3 (zigzag varint)
		float   = 4 (fixed64)
		bool    = 5 (varint)

	The zero Value encodes to zero bytes. This is the format persisted by the
	disk engines and used by the binary RPC serializer.
*/

// AppendBinary appends the encoding of v to b
func (v Value) AppendBinary(b []byte) []byte {
	num := protowire.Number(v.kind)
	switch v.kind {
	case KindString:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v.str)
	case KindBytes:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
	case KindInteger:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v.num)))
	case KindFloat:
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.num)
	case KindBool:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v.num)
	}
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler (this also makes Value usable with gob)
func (v Value) MarshalBinary() ([]byte, error) {
	return v.AppendBinary(nil), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (v *Value) UnmarshalBinary(b []byte) error {
	decoded, err := DecodeValue(b)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// DecodeValue decodes a Value from its binary encoding. Unknown fields are
// rejected, if a field occurs multiple times the last one wins.
func DecodeValue(b []byte) (Value, error) {
	var v Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Value{}, fmt.Errorf("value: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		kind := Kind(num)
		if num > protowire.Number(KindBool) || num < protowire.Number(KindString) {
			return Value{}, fmt.Errorf("value: unknown field %d", num)
		}

		switch {
		case (kind == KindString || kind == KindBytes) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, fmt.Errorf("value: invalid %s: %w", kind, protowire.ParseError(n))
			}
			if kind == KindString {
				v = NewString(string(raw))
			} else {
				v = NewBytes(raw)
			}
			b = b[n:]
		case (kind == KindInteger || kind == KindBool) && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, fmt.Errorf("value: invalid %s: %w", kind, protowire.ParseError(n))
			}
			if kind == KindInteger {
				v = NewInt(protowire.DecodeZigZag(x))
			} else {
				v = NewBool(protowire.DecodeBool(x))
			}
			b = b[n:]
		case kind == KindFloat && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Value{}, fmt.Errorf("value: invalid %s: %w", kind, protowire.ParseError(n))
			}
			v = Value{kind: KindFloat, num: x}
			b = b[n:]
		default:
			return Value{}, fmt.Errorf("value: field %d has unexpected wire type %d", num, typ)
		}
	}
	return v, nil
}

// --------------------------------------------------------------------------
// JSON encoding
// --------------------------------------------------------------------------

// jsonValue is the JSON shape of a Value: exactly one field is set
type jsonValue struct {
	String  *string  `json:"string,omitempty"`
	Binary  []byte   `json:"binary,omitempty"` // base64
	Integer *int64   `json:"integer,omitempty"`
	Float   *float64 `json:"float,omitempty"`
	Bool    *bool    `json:"bool,omitempty"`
}

// MarshalJSON encodes v as e.g. {"integer":42}. The zero Value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	var j jsonValue
	switch v.kind {
	case KindString:
		j.String = &v.str
	case KindBytes:
		if len(v.raw) == 0 {
			return []byte(`{"binary":""}`), nil
		}
		j.Binary = v.raw
	case KindInteger:
		i := int64(v.num)
		j.Integer = &i
	case KindFloat:
		f := math.Float64frombits(v.num)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value: float %v can't be represented in JSON", f)
		}
		j.Float = &f
	case KindBool:
		b := v.num == 1
		j.Bool = &b
	default:
		return []byte("null"), nil
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}

	// the raw map tells an empty binary value apart from a missing one
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return fmt.Errorf("value: expected exactly one of string, binary, integer, float, bool, got %d fields", len(fields))
	}

	var j jsonValue
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	switch {
	case j.String != nil:
		*v = NewString(*j.String)
	case j.Integer != nil:
		*v = NewInt(*j.Integer)
	case j.Float != nil:
		*v = NewFloat(*j.Float)
	case j.Bool != nil:
		*v = NewBool(*j.Bool)
	default:
		if _, ok := fields["binary"]; !ok {
			return fmt.Errorf("value: unknown field in %s", data)
		}
		*v = NewBytes(j.Binary)
	}
	return nil
}

// --------------------------------------------------------------------------
// Kvpair
// --------------------------------------------------------------------------

// Kvpair is a key together with its value
type Kvpair struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

func (p Kvpair) String() string {
	return fmt.Sprintf("%s=%s(%s)", p.Key, p.Value.Kind(), p.Value)
}
