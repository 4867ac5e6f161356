package testing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory creates a new, empty instance of a KVDB implementation.
// Disk based engines should place their files in tb.TempDir().
type DBFactory func(tb testing.TB) db.KVDB

// RunKVDBTests runs the conformance test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("SetReturnsPrevious", func(t *testing.T) {
			testSetReturnsPrevious(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory(t))
		})

		t.Run("GetAllOrder", func(t *testing.T) {
			testGetAllOrder(t, factory(t))
		})

		t.Run("IteratePrefix", func(t *testing.T) {
			testIteratePrefix(t, factory(t))
		})

		t.Run("IterateSnapshot", func(t *testing.T) {
			testIterateSnapshot(t, factory(t))
		})

		t.Run("ConcurrentSameKey", func(t *testing.T) {
			testConcurrentSameKey(t, factory(t))
		})

		t.Run("ConcurrentDifferentKeys", func(t *testing.T) {
			testConcurrentDifferentKeys(t, factory(t))
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the database does not support the feature
func requireFeature(tb testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		tb.Skipf("feature %s not supported", feature)
	}
}

// mustSet stores a value and fails the test on error
func mustSet(tb testing.TB, database db.KVDB, key, value string) {
	_, _, err := database.Set(key, []byte(value))
	require.NoError(tb, err)
}

// drain reads all entries of an iterator and closes it
func drain(tb testing.TB, it db.Iterator) []db.Entry {
	defer func() { require.NoError(tb, it.Close()) }()
	var entries []db.Entry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	require.NoError(tb, it.Err())
	return entries
}

func keysOf(entries []db.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	mustSet(t, database, "test-key", "test-value1")

	val, ok, err := database.Get("test-key")
	require.NoError(t, err)
	require.True(t, ok, "key should exist after Set")
	assert.Equal(t, []byte("test-value1"), val)

	mustSet(t, database, "test-key", "test-value2")
	val, ok, err = database.Get("test-key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("test-value2"), val)

	_, ok, err = database.Get("nonexistent-key")
	require.NoError(t, err)
	assert.False(t, ok, "nonexistent key must not be found")

	// Get must return a copy
	val[0] = 'X'
	again, _, err := database.Get("test-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("test-value2"), again, "Get should return a copy, not a reference to the stored value")

	// the stored value must not alias the caller's slice
	input := []byte("original")
	_, _, err = database.Set("alias-key", input)
	require.NoError(t, err)
	input[0] = 'X'
	stored, _, err := database.Get("alias-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), stored)
}

func testSetReturnsPrevious(t *testing.T, database db.KVDB) {
	defer database.Close()

	prev, loaded, err := database.Set("k", []byte("v1"))
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Nil(t, prev)

	prev, loaded, err = database.Set("k", []byte("v2"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("v1"), prev)

	// writing the same value again still reports the previous one
	prev, loaded, err = database.Set("k", []byte("v2"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("v2"), prev)
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	mustSet(t, database, "delete-key", "delete-value")

	prev, loaded, err := database.Delete("delete-key")
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("delete-value"), prev)

	_, ok, err := database.Get("delete-key")
	require.NoError(t, err)
	assert.False(t, ok, "key should not exist after Delete")

	// deleting a missing key is not an error
	prev, loaded, err = database.Delete("delete-key")
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Nil(t, prev)

	// a deleted key can be written again
	prev, loaded, err = database.Set("delete-key", []byte("again"))
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Nil(t, prev)
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	ok, err := database.Has("has-key")
	require.NoError(t, err)
	assert.False(t, ok)

	mustSet(t, database, "has-key", "value")
	ok, err = database.Has("has-key")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = database.Delete("has-key")
	require.NoError(t, err)
	ok, err = database.Has("has-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testGetAllOrder(t *testing.T, database db.KVDB) {
	defer database.Close()

	entries, err := database.GetAll()
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, k := range []string{"c", "a", "b"} {
		mustSet(t, database, k, "v-"+k)
	}
	// overwrite keeps the position, delete + set moves to the end
	mustSet(t, database, "c", "v-c2")
	_, _, err = database.Delete("a")
	require.NoError(t, err)
	mustSet(t, database, "a", "v-a2")

	entries, err = database.GetAll()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	switch {
	case database.SupportsFeature(db.FeatureInsertionOrder):
		assert.Equal(t, []string{"c", "b", "a"}, keysOf(entries))
		assert.Equal(t, db.OrderInsertion, database.GetInfo().Ordering)
	case database.SupportsFeature(db.FeatureKeyOrder):
		assert.Equal(t, []string{"a", "b", "c"}, keysOf(entries))
		assert.Equal(t, db.OrderKey, database.GetInfo().Ordering)
	default:
		t.Fatalf("database advertises no ordering")
	}

	values := map[string]string{}
	for _, e := range entries {
		values[e.Key] = string(e.Value)
	}
	assert.Equal(t, map[string]string{"a": "v-a2", "b": "v-b", "c": "v-c2"}, values)
}

func testIteratePrefix(t *testing.T, database db.KVDB) {
	defer database.Close()

	for _, k := range []string{"user:2", "order:1", "user:1", "user", "users:1", "a"} {
		mustSet(t, database, k, k)
	}

	it, err := database.Iterate("user:")
	require.NoError(t, err)
	keys := keysOf(drain(t, it))
	sort.Strings(keys)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)

	it, err = database.Iterate("nothing")
	require.NoError(t, err)
	assert.Empty(t, drain(t, it))

	// the empty prefix matches everything
	it, err = database.Iterate("")
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 6)

	// Next after exhaustion keeps returning false, Close is idempotent
	it, err = database.Iterate("a")
	require.NoError(t, err)
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.False(t, it.Next())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
}

func testIterateSnapshot(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshotIterate)

	mustSet(t, database, "snap:a", "1")
	mustSet(t, database, "snap:b", "2")

	it, err := database.Iterate("snap:")
	require.NoError(t, err)

	// writes after the iterator was created are not observed
	mustSet(t, database, "snap:c", "3")
	mustSet(t, database, "snap:a", "changed")
	_, _, err = database.Delete("snap:b")
	require.NoError(t, err)

	entries := drain(t, it)
	got := map[string]string{}
	for _, e := range entries {
		got[e.Key] = string(e.Value)
	}
	assert.Equal(t, map[string]string{"snap:a": "1", "snap:b": "2"}, got)
}

// testConcurrentSameKey checks that Set is atomic: every written value is
// reported as previous value by exactly one other Set, except the final one.
func testConcurrentSameKey(t *testing.T, database db.KVDB) {
	defer database.Close()

	const (
		writers = 8
		writes  = 50
	)

	var (
		mu    sync.Mutex
		prevs = map[string]int{}
		wg    sync.WaitGroup
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				prev, loaded, err := database.Set("hot", []byte(fmt.Sprintf("%d-%d", w, i)))
				if err != nil {
					t.Errorf("set failed: %v", err)
					return
				}
				if loaded {
					mu.Lock()
					prevs[string(prev)]++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	final, ok, err := database.Get("hot")
	require.NoError(t, err)
	require.True(t, ok)

	total := 0
	for v, n := range prevs {
		assert.Equal(t, 1, n, "value %s was replaced more than once", v)
		total += n
	}
	assert.Equal(t, writers*writes-1, total, "exactly one Set must see no previous value")
	_, seen := prevs[string(final)]
	assert.False(t, seen, "the final value can not have been replaced")
}

func testConcurrentDifferentKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	const (
		writers = 8
		keys    = 100
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if _, _, err := database.Set(key, []byte(key)); err != nil {
					t.Errorf("set failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	entries, err := database.GetAll()
	require.NoError(t, err)
	assert.Len(t, entries, writers*keys)
	for _, e := range entries {
		assert.Equal(t, e.Key, string(e.Value))
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer database.Close()

	for i := 0; i < 10; i++ {
		mustSet(t, database, fmt.Sprintf("info-%d", i), "value")
	}

	info := database.GetInfo()
	assert.NotEmpty(t, info.DbType)
	assert.NotEmpty(t, info.SupportedFeatures)
	assert.Equal(t, int64(10), info.Keys)
	for _, f := range info.SupportedFeatures {
		assert.True(t, database.SupportsFeature(f), "advertised feature %s is not supported", f)
	}
}

func testClosed(t *testing.T, database db.KVDB) {
	mustSet(t, database, "k", "v")
	require.NoError(t, database.Close())
	require.NoError(t, database.Close(), "Close must be idempotent")

	_, _, err := database.Set("k", []byte("v"))
	assert.True(t, errors.Is(err, db.ErrClosed))
	_, _, err = database.Get("k")
	assert.True(t, errors.Is(err, db.ErrClosed))
	_, err = database.Iterate("")
	assert.True(t, errors.Is(err, db.ErrClosed))
}
