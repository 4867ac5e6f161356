// Package engines bundles the available db.KVDB implementations and opens
// one of them by name:
//
//   - maple: in-memory, insertion ordered, no persistence
//   - vlog: badger, persistent, key ordered, value log GC in the background
//   - lsm: pebble, persistent, key ordered, background compaction
//
// Usage:
//
//	database, err := engines.Open(engines.Config{Engine: db.ImplLsm, DataDir: "data"})
package engines
