package serializer

import (
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewBinarySerializer creates a new serializer using the protobuf wire format.
// The messages are hand encoded with protowire, no generated code is involved.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using the protobuf wire format
type binarySerializerImpl struct {
}

/*
	Field numbers (fields with zero values are omitted, unknown fields are skipped):

	Request:
		1 type             varint
		2 key              bytes
		3 value            bytes (embedded Value, see store.Value.AppendBinary)
		4 topic            bytes
		5 subscription_id  varint
		6 prefix           bytes
		7 keys             bytes, repeated (empty keys are kept)
		8 pairs            bytes, repeated (embedded Kvpair)

	Response:
		1 type             varint
		2 status           varint
		3 values           bytes, repeated (embedded Value)
		4 pairs            bytes, repeated (embedded Kvpair: 1 key, 2 value)
		5 message          bytes
		6 subscription_id  varint
		7 topic            bytes
*/

const (
	reqType protowire.Number = iota + 1
	reqKey
	reqValue
	reqTopic
	reqSubscriptionID
	reqPrefix
	reqKeys
	reqPairs
)

const (
	respType protowire.Number = iota + 1
	respStatus
	respValues
	respPairs
	respMessage
	respSubscriptionID
	respTopic
)

const (
	pairKey protowire.Number = iota + 1
	pairValue
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string { return "binary" }

func (b binarySerializerImpl) SerializeRequest(req *common.Request) ([]byte, error) {
	size := 16 + len(req.Key) + len(req.Topic) + len(req.Prefix) + req.Value.Size()
	for _, k := range req.Keys {
		size += len(k) + 4
	}
	for _, p := range req.Pairs {
		size += len(p.Key) + p.Value.Size() + 8
	}
	buf := make([]byte, 0, size)

	buf = appendVarint(buf, reqType, uint64(req.Type))
	buf = appendString(buf, reqKey, req.Key)
	buf = appendValue(buf, reqValue, req.Value)
	buf = appendString(buf, reqTopic, req.Topic)
	buf = appendVarint(buf, reqSubscriptionID, uint64(req.SubscriptionID))
	buf = appendString(buf, reqPrefix, req.Prefix)
	for _, k := range req.Keys {
		buf = protowire.AppendTag(buf, reqKeys, protowire.BytesType)
		buf = protowire.AppendString(buf, k)
	}
	for _, p := range req.Pairs {
		buf = appendPair(buf, reqPairs, p)
	}
	return buf, nil
}

func (b binarySerializerImpl) DeserializeRequest(data []byte, req *common.Request) error {
	*req = common.Request{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == reqType && typ == protowire.VarintType:
			return consumeVarint(data, func(x uint64) { req.Type = common.MessageType(x) })
		case num == reqKey && typ == protowire.BytesType:
			return consumeString(data, &req.Key)
		case num == reqValue && typ == protowire.BytesType:
			return consumeValue(data, func(v store.Value) { req.Value = v })
		case num == reqTopic && typ == protowire.BytesType:
			return consumeString(data, &req.Topic)
		case num == reqSubscriptionID && typ == protowire.VarintType:
			return consumeVarint(data, func(x uint64) { req.SubscriptionID = uint32(x) })
		case num == reqPrefix && typ == protowire.BytesType:
			return consumeString(data, &req.Prefix)
		case num == reqKeys && typ == protowire.BytesType:
			var k string
			n, err := consumeString(data, &k)
			if n >= 0 {
				req.Keys = append(req.Keys, k)
			}
			return n, err
		case num == reqPairs && typ == protowire.BytesType:
			return consumePair(data, func(p store.Kvpair) { req.Pairs = append(req.Pairs, p) })
		default:
			return skipField(num, typ, data)
		}
	})
}

func (b binarySerializerImpl) SerializeResponse(resp *common.Response) ([]byte, error) {
	size := 24 + len(resp.Message) + len(resp.Topic)
	for _, v := range resp.Values {
		size += v.Size() + 4
	}
	for _, p := range resp.Pairs {
		size += len(p.Key) + p.Value.Size() + 8
	}
	buf := make([]byte, 0, size)

	buf = appendVarint(buf, respType, uint64(resp.Type))
	buf = appendVarint(buf, respStatus, uint64(resp.Status))
	for _, v := range resp.Values {
		// repeated fields keep invalid values so the positions stay intact
		buf = protowire.AppendTag(buf, respValues, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v.AppendBinary(nil))
	}
	for _, p := range resp.Pairs {
		buf = appendPair(buf, respPairs, p)
	}
	buf = appendString(buf, respMessage, resp.Message)
	buf = appendVarint(buf, respSubscriptionID, uint64(resp.SubscriptionID))
	buf = appendString(buf, respTopic, resp.Topic)
	return buf, nil
}

func (b binarySerializerImpl) DeserializeResponse(data []byte, resp *common.Response) error {
	*resp = common.Response{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == respType && typ == protowire.VarintType:
			return consumeVarint(data, func(x uint64) { resp.Type = common.MessageType(x) })
		case num == respStatus && typ == protowire.VarintType:
			return consumeVarint(data, func(x uint64) { resp.Status = common.StatusCode(x) })
		case num == respValues && typ == protowire.BytesType:
			return consumeValue(data, func(v store.Value) { resp.Values = append(resp.Values, v) })
		case num == respPairs && typ == protowire.BytesType:
			return consumePair(data, func(p store.Kvpair) { resp.Pairs = append(resp.Pairs, p) })
		case num == respMessage && typ == protowire.BytesType:
			return consumeString(data, &resp.Message)
		case num == respSubscriptionID && typ == protowire.VarintType:
			return consumeVarint(data, func(x uint64) { resp.SubscriptionID = uint32(x) })
		case num == respTopic && typ == protowire.BytesType:
			return consumeString(data, &resp.Topic)
		default:
			return skipField(num, typ, data)
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func appendPair(b []byte, num protowire.Number, p store.Kvpair) []byte {
	var pair []byte
	pair = appendString(pair, pairKey, p.Key)
	pair = appendValue(pair, pairValue, p.Value)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, pair)
}

func consumePair(data []byte, add func(store.Kvpair)) (int, error) {
	raw, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return n, nil
	}
	pair, err := decodePair(raw)
	if err != nil {
		return 0, err
	}
	add(pair)
	return n, nil
}

func decodePair(data []byte) (store.Kvpair, error) {
	var pair store.Kvpair
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch {
		case num == pairKey && typ == protowire.BytesType:
			return consumeString(data, &pair.Key)
		case num == pairValue && typ == protowire.BytesType:
			return consumeValue(data, func(v store.Value) { pair.Value = v })
		default:
			return skipField(num, typ, data)
		}
	})
	return pair, err
}

func appendVarint(b []byte, num protowire.Number, x uint64) []byte {
	if x == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, x)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendValue omits invalid (zero) values
func appendValue(b []byte, num protowire.Number, v store.Value) []byte {
	if !v.IsValid() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v.AppendBinary(nil))
}

// fieldFunc consumes the value of one field and returns the number of bytes
// read. A negative number is a protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, data []byte) (int, error)

func consumeFields(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("binary serializer: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		n, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("binary serializer: invalid field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func consumeVarint(data []byte, set func(uint64)) (int, error) {
	x, n := protowire.ConsumeVarint(data)
	if n >= 0 {
		set(x)
	}
	return n, nil
}

func consumeString(data []byte, dst *string) (int, error) {
	s, n := protowire.ConsumeString(data)
	if n >= 0 {
		*dst = s
	}
	return n, nil
}

func consumeValue(data []byte, set func(store.Value)) (int, error) {
	raw, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return n, nil
	}
	v, err := store.DecodeValue(raw)
	if err != nil {
		return 0, fmt.Errorf("binary serializer: %w", err)
	}
	set(v)
	return n, nil
}

func skipField(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, data), nil
}
