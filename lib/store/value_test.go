package store

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValues() []Value {
	return []Value{
		NewString("hello"),
		NewString(""),
		NewBytes([]byte{0, 1, 2, 255}),
		NewBytes(nil),
		NewInt(0),
		NewInt(-42),
		NewInt(math.MaxInt64),
		NewFloat(3.25),
		NewFloat(-0.5),
		NewBool(true),
		NewBool(false),
	}
}

func TestValueBinaryRoundTrip(t *testing.T) {
	for _, v := range sampleValues() {
		b, err := v.MarshalBinary()
		require.NoError(t, err)

		var got Value
		require.NoError(t, got.UnmarshalBinary(b))
		assert.True(t, v.Equal(got), "%s(%s) changed to %s(%s)", v.Kind(), v, got.Kind(), got)
	}
}

func TestValueBinaryFieldNumbers(t *testing.T) {
	// string = field 1, length delimited
	assert.Equal(t, []byte{0x0a, 0x02, 'h', 'i'}, NewString("hi").AppendBinary(nil))
	// integer = field 3, zigzag varint (-1 -> 1)
	assert.Equal(t, []byte{0x18, 0x01}, NewInt(-1).AppendBinary(nil))
	// bool = field 5, varint
	assert.Equal(t, []byte{0x28, 0x01}, NewBool(true).AppendBinary(nil))
	// the zero value encodes to nothing
	assert.Empty(t, Value{}.AppendBinary(nil))
}

func TestDecodeValueErrors(t *testing.T) {
	_, err := DecodeValue([]byte{0x0a, 0x05, 'h'})
	assert.Error(t, err, "truncated string")

	_, err = DecodeValue([]byte{0x30, 0x01})
	assert.Error(t, err, "unknown field 6")

	_, err = DecodeValue([]byte{0x0d, 0, 0, 0, 0})
	assert.Error(t, err, "string with fixed32 wire type")

	v, err := DecodeValue(nil)
	require.NoError(t, err)
	assert.False(t, v.IsValid())
}

func TestValueJSON(t *testing.T) {
	for _, v := range sampleValues() {
		b, err := json.Marshal(v)
		require.NoError(t, err)

		var got Value
		require.NoError(t, json.Unmarshal(b, &got), string(b))
		assert.True(t, v.Equal(got), "%s changed to %s", b, got)
	}

	b, err := json.Marshal(NewInt(42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"integer":42}`, string(b))

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"integer":1,"bool":true}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"unknown":1}`), &v))
	_, err = json.Marshal(NewFloat(math.NaN()))
	assert.Error(t, err)
}

func TestValueGob(t *testing.T) {
	in := []Kvpair{{Key: "a", Value: NewFloat(1.5)}, {Key: "b", Value: NewBytes([]byte("x"))}}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(in))

	var out []Kvpair
	require.NoError(t, gob.NewDecoder(&buf).Decode(&out))
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].Key, out[i].Key)
		assert.True(t, in[i].Value.Equal(out[i].Value))
	}
}

func TestValueAccessors(t *testing.T) {
	s, ok := NewString("x").AsString()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = NewString("x").AsInt()
	assert.False(t, ok)

	raw := []byte("abc")
	v := NewBytes(raw)
	raw[0] = 'X'
	got, ok := v.AsBytes()
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), got, "NewBytes must copy its input")
	got[0] = 'Y'
	again, _ := v.AsBytes()
	assert.Equal(t, []byte("abc"), again, "AsBytes must return a copy")

	assert.False(t, NewInt(1).Equal(NewFloat(1)))
	assert.True(t, NewFloat(math.NaN()).Equal(NewFloat(math.NaN())))
}

func TestParseValue(t *testing.T) {
	kind, err := ParseKind("int")
	require.NoError(t, err)
	v, err := ParseValue(kind, "17")
	require.NoError(t, err)
	assert.True(t, v.Equal(NewInt(17)))

	v, err = ParseValue(KindBytes, "AAEC")
	require.NoError(t, err)
	assert.True(t, v.Equal(NewBytes([]byte{0, 1, 2})))

	_, err = ParseValue(KindBool, "maybe")
	assert.Error(t, err)
	_, err = ParseKind("decimal")
	assert.Error(t, err)
}

func TestErrorCodes(t *testing.T) {
	err := Errorf(RetCInvalidArgument, "bad key %q", "")
	assert.Equal(t, RetCInvalidArgument, CodeOf(err))
	assert.Contains(t, err.Error(), "InvalidArgument")
	assert.Equal(t, RetCSuccess, CodeOf(nil))
	assert.Equal(t, RetCInternalError, CodeOf(assert.AnError))
}
