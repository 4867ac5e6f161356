package serializer

import (
	"testing"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testRequests creates one request of every type
func testRequests() []*common.Request {
	return []*common.Request{
		common.NewGetRequest("test-key"),
		common.NewSetRequest("test-key", store.NewString("test-value")),
		common.NewSetRequest("int", store.NewInt(-42)),
		common.NewSetRequest("float", store.NewFloat(0.5)),
		common.NewSetRequest("bool", store.NewBool(false)),
		common.NewSetRequest("bin", store.NewBytes([]byte{0, 1, 2, 255})),
		common.NewSetRequest("empty-bin", store.NewBytes(nil)),
		common.NewSetRequest("empty-str", store.NewString("")),
		common.NewDeleteRequest("test-key"),
		common.NewContainsRequest("test-key"),
		common.NewGetAllRequest(),
		common.NewScanRequest("user:"),
		common.NewSubscribeRequest("news"),
		common.NewUnsubscribeRequest("news", 4711),
		common.NewPublishRequest("news", store.NewString("hello")),
		common.NewMGetRequest("a", "", "b"),
		common.NewMSetRequest([]store.Kvpair{
			{Key: "a", Value: store.NewInt(1)},
			{Key: "b", Value: store.NewBytes(nil)},
			{Key: "c", Value: store.NewString("")},
		}),
		common.NewMDeleteRequest("a"),
		common.NewMContainsRequest("a", "b"),
	}
}

// testResponses creates a set of responses with different fields filled
func testResponses() []*common.Response {
	return []*common.Response{
		common.NewOKResponse(common.MsgTSet),
		common.NewOKResponse(common.MsgTGet, store.NewString("value")),
		common.NewOKResponse(common.MsgTDelete, store.NewBytes([]byte("prev"))),
		common.NewOKResponse(common.MsgTContains, store.NewBool(true)),
		common.NewOKResponse(common.MsgTPublish, store.NewInt(3)),
		common.NewPairsResponse(common.MsgTGetAll, []store.Kvpair{
			{Key: "a", Value: store.NewInt(1)},
			{Key: "b", Value: store.NewFloat(-2.25)},
			{Key: "c", Value: store.NewBytes(nil)},
		}),
		common.NewOKResponse(common.MsgTMGet, store.NewInt(1), store.Value{}, store.NewString("x")),
		common.NewOKResponse(common.MsgTMContains, store.NewBool(true), store.NewBool(false)),
		common.NewSubscribeResponse("news", 1),
		common.NewEventResponse("news", 1, store.NewString("x")),
		common.NewErrorResponse(common.MsgTGet, common.StatusNotFound, "key not found"),
		common.NewErrorResponse(common.MsgTError, common.StatusBadRequest, "unknown request type"),
	}
}

// TestRequestRoundTrip tests that requests can be serialized and deserialized correctly
func TestRequestRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, req := range testRequests() {
				data, err := serializer.SerializeRequest(req)
				require.NoError(t, err, "serialize %s", req.Type)

				var result common.Request
				require.NoError(t, serializer.DeserializeRequest(data, &result), "deserialize %s", req.Type)

				assert.Equal(t, *req, result)
				assert.True(t, req.Value.Equal(result.Value))
			}
		})
	}
}

// TestResponseRoundTrip tests that responses can be serialized and deserialized correctly
func TestResponseRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, resp := range testResponses() {
				data, err := serializer.SerializeResponse(resp)
				require.NoError(t, err, "serialize %s", resp.Type)

				var result common.Response
				require.NoError(t, serializer.DeserializeResponse(data, &result), "deserialize %s", resp.Type)

				assert.Equal(t, *resp, result)
			}
		})
	}
}

// TestDeserializeResets makes sure no field of a reused message survives
func TestDeserializeResets(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			data, err := serializer.SerializeResponse(common.NewOKResponse(common.MsgTSet))
			require.NoError(t, err)

			result := *common.NewOKResponse(common.MsgTGet, store.NewString("stale"))
			result.Message = "stale"
			require.NoError(t, serializer.DeserializeResponse(data, &result))
			assert.Equal(t, common.MsgTSet, result.Type)
			if name == "Binary" {
				assert.Empty(t, result.Values)
				assert.Empty(t, result.Message)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob", "JSON", ""} {
		s, err := ByName(name)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
	s, _ := ByName("")
	assert.Equal(t, "binary", s.Name())

	_, err := ByName("xml")
	assert.Error(t, err)
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	t.Run("EmptyRequestIsEmpty", func(t *testing.T) {
		data, err := serializer.SerializeRequest(&common.Request{})
		require.NoError(t, err)
		assert.Empty(t, data)

		var req common.Request
		require.NoError(t, serializer.DeserializeRequest(nil, &req))
		assert.Equal(t, common.Request{}, req)
	})

	t.Run("FieldNumbers", func(t *testing.T) {
		data, err := serializer.SerializeRequest(common.NewGetRequest("k"))
		require.NoError(t, err)
		// type=1 (varint 1), key=2 (len 1, "k")
		assert.Equal(t, []byte{0x08, byte(common.MsgTGet), 0x12, 0x01, 'k'}, data)
	})

	t.Run("UnknownFieldsAreSkipped", func(t *testing.T) {
		data, err := serializer.SerializeRequest(common.NewGetRequest("k"))
		require.NoError(t, err)
		data = protowire.AppendTag(data, 99, protowire.BytesType)
		data = protowire.AppendString(data, "future")
		data = protowire.AppendTag(data, 100, protowire.VarintType)
		data = protowire.AppendVarint(data, 7)

		var req common.Request
		require.NoError(t, serializer.DeserializeRequest(data, &req))
		assert.Equal(t, *common.NewGetRequest("k"), req)
	})

	t.Run("Truncated", func(t *testing.T) {
		data, err := serializer.SerializeRequest(common.NewSetRequest("key", store.NewString("value")))
		require.NoError(t, err)

		var req common.Request
		assert.Error(t, serializer.DeserializeRequest(data[:len(data)-2], &req))
	})

	t.Run("InvalidValue", func(t *testing.T) {
		var data []byte
		data = protowire.AppendTag(data, 3, protowire.BytesType)
		data = protowire.AppendBytes(data, []byte{0xff, 0xff})

		var req common.Request
		assert.Error(t, serializer.DeserializeRequest(data, &req))
	})

	t.Run("ValuePositionsAreKept", func(t *testing.T) {
		resp := common.NewOKResponse(common.MsgTGet, store.NewInt(0), store.NewString(""), store.NewBool(false))
		data, err := serializer.SerializeResponse(resp)
		require.NoError(t, err)

		var result common.Response
		require.NoError(t, serializer.DeserializeResponse(data, &result))
		require.Len(t, result.Values, 3)
		assert.Equal(t, store.KindInteger, result.Values[0].Kind())
		assert.Equal(t, store.KindString, result.Values[1].Kind())
		assert.Equal(t, store.KindBool, result.Values[2].Kind())
	})

	t.Run("KeyPositionsAreKept", func(t *testing.T) {
		data, err := serializer.SerializeRequest(common.NewMDeleteRequest("", "a", ""))
		require.NoError(t, err)

		var req common.Request
		require.NoError(t, serializer.DeserializeRequest(data, &req))
		assert.Equal(t, []string{"", "a", ""}, req.Keys)
	})

	t.Run("MissingValuesStayInPlace", func(t *testing.T) {
		resp := common.NewOKResponse(common.MsgTMGet, store.Value{}, store.NewInt(2), store.Value{})
		data, err := serializer.SerializeResponse(resp)
		require.NoError(t, err)

		var result common.Response
		require.NoError(t, serializer.DeserializeResponse(data, &result))
		require.Len(t, result.Values, 3)
		assert.False(t, result.Values[0].IsValid())
		assert.True(t, result.Values[1].Equal(store.NewInt(2)))
		assert.False(t, result.Values[2].IsValid())
	})
}

func TestJSONShape(t *testing.T) {
	data, err := NewJSONSerializer().SerializeRequest(common.NewSetRequest("a", store.NewInt(1)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"set","key":"a","value":{"integer":1}}`, string(data))

	var req common.Request
	err = NewJSONSerializer().DeserializeRequest([]byte(`{"type":"nope"}`), &req)
	assert.Error(t, err)
}
