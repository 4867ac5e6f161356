package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/sKV/rpc/common"
)

// IRPCSerializer is the interface for all payload serializers.
// Client and server must use the same implementation.
type IRPCSerializer interface {
	// Name returns the name the serializer is selected by (see ByName)
	Name() string
	// SerializeRequest serializes a Request into a byte array
	SerializeRequest(req *common.Request) ([]byte, error)
	// DeserializeRequest deserializes a byte array into req
	DeserializeRequest(b []byte, req *common.Request) error
	// SerializeResponse serializes a Response into a byte array
	SerializeResponse(resp *common.Response) ([]byte, error)
	// DeserializeResponse deserializes a byte array into resp
	DeserializeResponse(b []byte, resp *common.Response) error
}

// ByName returns the serializer with the given name (binary, json or gob)
func ByName(name string) (IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "binary", "":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s (expected binary, json or gob)", name)
	}
}
