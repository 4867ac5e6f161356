// Package vlog implements db.KVDB on top of BadgerDB, an LSM tree that keeps
// keys in the tree and large values in a separate append-only value log.
//
// Set and Delete run in a read-write transaction that first reads the
// previous value. Badger's optimistic concurrency control detects a
// concurrent commit on the same key (ErrConflict) and the transaction is
// retried, so the returned previous value is always the one that was replaced.
//
// Iterate opens a read-only transaction and therefore works on a snapshot.
// GetAll and Iterate return entries in byte-wise key order.
//
// Space of overwritten and deleted values is only reclaimed by the value log
// garbage collection, which runs every GCInterval (see Compact).
package vlog
