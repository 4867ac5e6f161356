package db

import "errors"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple" // in-memory, sharded concurrent map
	ImplVlog  Implementation = "vlog"  // log-structured, value log on disk (badger)
	ImplLsm   Implementation = "lsm"   // LSM-tree on disk (pebble)
)

// Ordering describes in which order GetAll returns the entries of a database.
type Ordering string

const (
	OrderInsertion Ordering = "insertion" // order of first insertion, overwrites keep their position
	OrderKey       Ordering = "key"       // byte-wise lexicographic key order
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeaturePersistent      Feature = 1 << iota // Data survives a restart
	FeatureInsertionOrder                      // GetAll returns entries in insertion order
	FeatureKeyOrder                            // GetAll returns entries in key order
	FeatureSnapshotIterate                     // Iterate works on a consistent snapshot
	FeatureGarbageCollect                      // The engine reclaims space in the background
	FeatureCompaction                          // The engine can be flushed / compacted on demand
)

func (f Feature) String() string {
	switch f {
	case FeaturePersistent:
		return "Persistent"
	case FeatureInsertionOrder:
		return "InsertionOrder"
	case FeatureKeyOrder:
		return "KeyOrder"
	case FeatureSnapshotIterate:
		return "SnapshotIterate"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	case FeatureCompaction:
		return "Compaction"
	default:
		return "Unknown"
	}
}

// Features splits a feature mask into its single flags
func Features(mask Feature) []Feature {
	var out []Feature
	for f := FeaturePersistent; f <= FeatureCompaction; f <<= 1 {
		if mask&f != 0 {
			out = append(out, f)
		}
	}
	return out
}

type DatabaseInfo struct {
	SizeBytes         int64          `json:"size_bytes"`
	Keys              int64          `json:"keys"`
	DbType            Implementation `json:"db_type"`
	Ordering          Ordering       `json:"ordering"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Entry is a raw key-value pair as stored by a database
type Entry struct {
	Key   string
	Value []byte
}

// ErrClosed is returned by every operation on a database after Close was called.
var ErrClosed = errors.New("db: database is closed")

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
// Values are opaque byte slices, the typed value model lives one layer above (see the store package).
// Keys must not be empty, callers are expected to validate them.
// Any implementation of this interface must make every single-key operation atomic:
// the previous value returned by Set and Delete is exactly the value that was replaced.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry. If the key already existed, the replaced value is returned and loaded is true.
	Set(key string, value []byte) (prev []byte, loaded bool, err error)

	// Delete removes an entry. If the key existed, the removed value is returned and loaded is true.
	Delete(key string) (prev []byte, loaded bool, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	// The returned slice is a copy and may be modified by the caller.
	Get(key string) (value []byte, loaded bool, err error)

	// Has checks whether a key exists in the database.
	Has(key string) (loaded bool, err error)

	// GetAll returns all entries of the database. The order depends on the implementation (see GetInfo().Ordering).
	GetAll() (entries []Entry, err error)

	// Iterate returns a lazy, single-pass iterator over all entries whose key starts with prefix.
	// The iterator observes at least all writes that completed before Iterate was called.
	// The caller must close the iterator.
	Iterate(prefix string) (it Iterator, err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database and releases all resources.
	Close() (err error)
}

// Compactor is implemented by engines that can reclaim space on demand
// (engines advertising FeatureGarbageCollect or FeatureCompaction).
type Compactor interface {
	Compact() error
}

// Iterator walks over a sequence of entries.
//
//	it, err := database.Iterate("user:")
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		e := it.Entry()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	// Next advances the iterator and reports whether an entry is available.
	Next() bool
	// Entry returns the current entry. Only valid after Next returned true.
	Entry() Entry
	// Err returns the first error the iterator ran into.
	Err() error
	// Close releases the resources of the iterator. It is safe to call Close multiple times.
	Close() error
}

// SliceIterator iterates over a pre-computed slice of entries
type SliceIterator struct {
	entries []Entry
	pos     int
}

// NewSliceIterator creates an iterator over the given entries (the slice is not copied)
func NewSliceIterator(entries []Entry) *SliceIterator {
	return &SliceIterator{entries: entries, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		it.pos = len(it.entries)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Entry() Entry {
	return it.entries[it.pos]
}

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Close() error {
	it.entries = nil
	it.pos = 0
	return nil
}
