// Package util provides utility components for database implementations
// that satisfy the db.KVDB interface.
//
// The package contains:
//   - functions: seeded FNV-1a hashing, shard selection (Pick) and a striped
//     per-key lock table (KeyLocks) for engines that need read-modify-write
//     atomicity on top of a store without conditional writes
//   - statistics: a SizeHistogram for tracking value sizes and helpers to rate
//     how evenly entries are spread over shards
package util
