package lstore

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]store.IStore {
	stores := map[string]store.IStore{}
	for _, impl := range []db.Implementation{db.ImplMaple, db.ImplVlog, db.ImplLsm} {
		cfg := engines.Config{Engine: impl, DataDir: t.TempDir()}
		s, err := NewLocalStore(func() (db.KVDB, error) { return engines.Open(cfg) })
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		stores[string(impl)] = s
	}
	return stores
}

func TestTypedRoundTrip(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			values := []store.Value{
				store.NewString("text"),
				store.NewBytes([]byte{1, 2, 3}),
				store.NewInt(-7),
				store.NewFloat(2.5),
				store.NewBool(true),
			}
			for i, v := range values {
				key := fmt.Sprintf("key-%d", i)
				_, loaded, err := s.Set(key, v)
				require.NoError(t, err)
				assert.False(t, loaded)

				got, ok, err := s.Get(key)
				require.NoError(t, err)
				require.True(t, ok)
				assert.True(t, v.Equal(got), "%s: got %s(%s)", key, got.Kind(), got)
			}
		})
	}
}

func TestSetDeleteReturnPrevious(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := s.Set("k", store.NewInt(1))
			require.NoError(t, err)

			prev, loaded, err := s.Set("k", store.NewString("two"))
			require.NoError(t, err)
			assert.True(t, loaded)
			assert.True(t, prev.Equal(store.NewInt(1)))

			prev, loaded, err = s.Delete("k")
			require.NoError(t, err)
			assert.True(t, loaded)
			assert.True(t, prev.Equal(store.NewString("two")))

			_, loaded, err = s.Delete("k")
			require.NoError(t, err)
			assert.False(t, loaded)

			ok, err := s.Contains("k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := s.Set("", store.NewInt(1))
			assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))

			_, _, err = s.Set("k", store.Value{})
			assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))

			_, _, err = s.Get("")
			assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))

			_, err = s.Contains("")
			assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))
		})
	}
}

func TestIterateAndGetAll(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"p:b", "q:a", "p:a"} {
				_, _, err := s.Set(k, store.NewString(k))
				require.NoError(t, err)
			}

			it, err := s.Iterate("p:")
			require.NoError(t, err)
			var keys []string
			for it.Next() {
				p := it.Pair()
				assert.True(t, p.Value.Equal(store.NewString(p.Key)))
				keys = append(keys, p.Key)
			}
			require.NoError(t, it.Err())
			require.NoError(t, it.Close())
			assert.ElementsMatch(t, []string{"p:a", "p:b"}, keys)

			pairs, err := s.GetAll()
			require.NoError(t, err)
			assert.Len(t, pairs, 3)

			info, err := s.GetDBInfo()
			require.NoError(t, err)
			assert.Equal(t, db.Implementation(name), info.DbType)
		})
	}
}

func TestClosedStoreReportsStorageFailure(t *testing.T) {
	s, err := NewLocalStore(func() (db.KVDB, error) { return engines.Open(engines.Config{}) })
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.Set("k", store.NewInt(1))
	assert.Equal(t, store.RetCStorageFailure, store.CodeOf(err))
}

func TestFactoryError(t *testing.T) {
	_, err := NewLocalStore(func() (db.KVDB, error) {
		return engines.Open(engines.Config{Engine: "unknown"})
	})
	assert.Equal(t, store.RetCStorageFailure, store.CodeOf(err))
}
