package internal

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (value with metadata)
// --------------------------------------------------------------------------

// Entry stores a value together with its insertion sequence number.
// The sequence is assigned on first insert and kept on overwrite,
// so sorting by Seq yields insertion order.
type Entry struct {
	Value []byte // never mutated after the entry was stored
	Seq   uint64 // insertion sequence number
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates an empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// Collect appends every entry of the shard for which keep returns true to dst
// and returns the extended slice.
func (s *Shard) Collect(dst []KeyedEntry, keep func(key string) bool) []KeyedEntry {
	s.Data.Range(func(key string, e Entry) bool {
		if keep(key) {
			dst = append(dst, KeyedEntry{Key: key, Entry: e})
		}
		return true
	})
	return dst
}

// KeyedEntry is an entry together with its key, used when entries leave their shard
type KeyedEntry struct {
	Key string
	Entry
}
