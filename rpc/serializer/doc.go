// Package serializer converts the protocol envelopes (common.Request and
// common.Response) to and from the payload bytes carried in a frame.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//     ByName selects an implementation by its configured name.
//
//   - binarySerializerImpl: protobuf wire format written and read with protowire.
//     Zero fields are omitted and unknown fields are skipped, so new fields can be
//     added without breaking older peers. Values are embedded with the same
//     encoding the disk engines persist (store.Value.AppendBinary).
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or interoperability.
//     Message types are written as strings, values as e.g. {"integer":42}.
//
//   - gobSerializerImpl: Go's gob encoding. Every payload is a self contained
//     gob stream, which makes it the largest format.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.SerializeRequest(common.NewGetRequest("key"))
//	// ... send data ...
//	var resp common.Response
//	err = s.DeserializeResponse(receivedData, &resp)
package serializer
