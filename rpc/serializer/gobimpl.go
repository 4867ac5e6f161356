package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/sKV/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Values travel through their MarshalBinary encoding.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding.
// Every payload is a self contained gob stream (type information included).
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Name() string { return "gob" }

func (g gobSerializerImpl) SerializeRequest(req *common.Request) ([]byte, error) {
	return gobEncode(req)
}

func (g gobSerializerImpl) DeserializeRequest(b []byte, req *common.Request) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(req)
}

func (g gobSerializerImpl) SerializeResponse(resp *common.Response) ([]byte, error) {
	return gobEncode(resp)
}

func (g gobSerializerImpl) DeserializeResponse(b []byte, resp *common.Response) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(resp)
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
