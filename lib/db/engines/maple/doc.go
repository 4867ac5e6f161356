// Package maple implements an in-memory key-value database (KVDB) built from
// independent shards of concurrent hash maps.
//
// Key Components:
//
//   - mapleImpl: The database structure implementing db.KVDB. It owns the
//     shards, hands out insertion sequence numbers and keeps a live key count.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Keys are
//     assigned to shards by hashing them with a per-instance seed (FNV-1a) and
//     using the higher bits of the hash.
//
//   - Entry: The stored value plus its insertion sequence number.
//
// Atomicity:
//
//	Set and Delete run inside the Compute callback of the shard map. The
//	previous value handed back to the caller is therefore exactly the value that
//	was replaced, even with many writers on the same key. There is no global
//	lock, writers on different shards never contend.
//
// Ordering:
//
//	GetAll and Iterate return entries in insertion order. A new key gets the
//	next sequence number, an overwrite keeps the old one, a delete followed by a
//	set moves the key to the end.
//
// Iteration:
//
//	Iterate copies the matching entries when it is called. Every write that
//	completed before the call is visible, later writes are not.
//
// Persistence:
//
//	None. All data is lost when the database is closed or the process exits.
package maple
