// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - RunKVDBTests: the conformance suite (previous values, ordering, prefix
//     iteration, snapshot isolation, atomicity under concurrent writers)
//   - RunKVDBBenchmarks: throughput of the common operations
//
// Tests that depend on an optional capability (e.g. snapshot iteration) are
// skipped when the engine does not advertise the matching db.Feature.
//
// Example usage:
//
//	factory := func(tb testing.TB) db.KVDB {
//		database, err := NewMyDatabase(tb.TempDir())
//		require.NoError(tb, err)
//		return database
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
