// Package lsm implements db.KVDB on top of Pebble, a RocksDB inspired LSM tree.
//
// Writes go to the WAL and the memtable and are later flushed to sstables
// that pebble compacts in the background. Pebble has no conditional writes,
// so Set and Delete hold a lock stripe of the key (util.KeyLocks) while they
// read the previous value and write the new one. Reads are lock free.
//
// Iterate takes a pebble snapshot and limits the iterator to the key range of
// the prefix. GetAll and Iterate return entries in byte-wise key order.
package lsm
