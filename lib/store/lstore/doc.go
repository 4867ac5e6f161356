// Package lstore implements store.IStore on top of any db.KVDB engine.
//
// The store is the boundary between the typed value model and the byte-level
// engines:
//
//   - Validation: empty keys and zero Values are rejected with
//     RetCInvalidArgument before the engine is touched.
//
//   - Encoding: values are persisted in their protobuf wire encoding
//     (store.Value.AppendBinary), keys are stored as raw bytes. The layout is
//     the same for every engine.
//
//   - Error mapping: engine failures (I/O, closed database, undecodable
//     values) are reported as RetCStorageFailure.
//
// Thread Safety:
//
//	The store keeps no state of its own. All guarantees (atomic single-key
//	operations, iteration snapshots) are those of the underlying engine.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(func() (db.KVDB, error) {
//		return engines.Open(engines.Config{Engine: db.ImplVlog, DataDir: "data"})
//	})
//	prev, replaced, err := s.Set("greeting", store.NewString("hello"))
package lstore
