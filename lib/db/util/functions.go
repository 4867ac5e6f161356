package util

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// only happens if the system has no entropy source
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the hashed representation of a string key
type UintKey uint64

// HashString generates a hash value for a string with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}

// Pick returns the element of items that is responsible for the hashed key.
// The lower 7 bits are skipped since they carry the least entropy for short keys.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func Pick[T any](key UintKey, items []T) T {
	return items[(uint64(key)>>7)%uint64(len(items))]
}

// --------------------------------------------------------------------------
// Striped Key Locks
// --------------------------------------------------------------------------

// KeyLocks is a fixed table of mutexes. Every key maps to one stripe, so
// writers of the same key serialize while writers of different keys mostly do not.
type KeyLocks struct {
	seed    uint64
	stripes []*sync.Mutex
}

// NewKeyLocks creates a lock table with n stripes (at least one)
func NewKeyLocks(n int) *KeyLocks {
	if n < 1 {
		n = 1
	}
	stripes := make([]*sync.Mutex, n)
	for i := range stripes {
		stripes[i] = &sync.Mutex{}
	}
	return &KeyLocks{seed: GenerateSeed(), stripes: stripes}
}

// Lock acquires the stripe of the key and returns the function that releases it
func (l *KeyLocks) Lock(key string) (unlock func()) {
	mu := Pick(HashString(key, l.seed), l.stripes)
	mu.Lock()
	return mu.Unlock
}
