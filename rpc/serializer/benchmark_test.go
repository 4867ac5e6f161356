package serializer

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// benchmarkResponses returns a set of responses for targeted benchmarking
func benchmarkResponses() map[string]*common.Response {
	pairs := make([]store.Kvpair, 100)
	for i := range pairs {
		pairs[i] = store.Kvpair{Key: "scan:" + strings.Repeat("k", i%16), Value: store.NewInt(int64(i))}
	}

	return map[string]*common.Response{
		"Empty": common.NewOKResponse(common.MsgTUnsubscribe),
		"SmallValue": common.NewOKResponse(common.MsgTGet,
			store.NewString("v")),
		"MediumValue": common.NewOKResponse(common.MsgTGet,
			store.NewString("medium length value for testing serialization")),
		"LargeValue": common.NewOKResponse(common.MsgTGet,
			store.NewBytes(make([]byte, 1024))), // 1KB of data
		"VeryLargeValue": common.NewOKResponse(common.MsgTGet,
			store.NewBytes(make([]byte, 1024*16))), // 16KB of data
		"Pairs":   common.NewPairsResponse(common.MsgTScan, pairs),
		"Event":   common.NewEventResponse("news", 7, store.NewFloat(3.14)),
		"Error":   common.NewErrorResponse(common.MsgTSet, common.StatusBadRequest, "Lorem ipsum dolor sit amet, consectetur adipiscing elit."),
		"Integer": common.NewOKResponse(common.MsgTPublish, store.NewInt(12)),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various responses
func BenchmarkSerialize(b *testing.B) {
	responses := benchmarkResponses()

	for name, factory := range testSerializers {
		for respName, resp := range responses {
			b.Run(name+"_"+respName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.SerializeResponse(resp)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various responses
func BenchmarkDeserialize(b *testing.B) {
	responses := benchmarkResponses()
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all responses with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for respName, resp := range responses {
			data, err := serializer.SerializeResponse(resp)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", respName, name, err)
			}
			serializedData[name][respName] = data
		}
	}

	// Benchmark deserialization
	for name, factory := range testSerializers {
		for respName := range responses {
			b.Run(name+"_"+respName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][respName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var resp common.Response
					if err := serializer.DeserializeResponse(data, &resp); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each response
func BenchmarkSize(b *testing.B) {
	responses := benchmarkResponses()

	for name, factory := range testSerializers {
		serializer := factory()

		for respName, resp := range responses {
			b.Run(name+"_"+respName, func(b *testing.B) {
				data, err := serializer.SerializeResponse(resp)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
