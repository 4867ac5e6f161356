// Package db provides a standardized interface for key-value database engines.
// It defines the KVDB interface that allows for consistent interaction with
// different storage backends while abstracting implementation details.
//
// The package focuses on:
//   - A unified byte-level interface for key-value operations
//   - Feature discovery through capability flags
//   - Comprehensive metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all engines must satisfy. Write
//     operations (Set, Delete) return the value they replaced, so the layer
//     above can implement "set returns previous" without a second lookup.
//
//   - Iterator: A lazy, single-pass cursor returned by Iterate(prefix). Engines
//     with native snapshots (vlog, lsm) iterate over a point-in-time view,
//     the in-memory engine hands out a copy of the matching entries.
//
//   - Feature Flags: The Feature type defines capability flags that
//     implementations advertise through SupportsFeature.
//
//   - Database Information: DatabaseInfo reports size statistics, the
//     implementation type and the GetAll ordering of an engine. Size figures
//     are estimates for most implementations.
//
// Available engines (see the engines package):
//
//   - maple: sharded in-memory map, GetAll in insertion order
//   - vlog: badger, key/value separation with value-log garbage collection
//   - lsm: pebble, LSM tree with background compaction
//
// Note on consistency: every single-key operation is atomic. Operations on
// different keys may interleave freely, there are no multi-key transactions.
package db
