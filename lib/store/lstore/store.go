package lstore

import (
	"errors"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/store"
)

type storeImpl struct {
	db db.KVDB
}

// NewLocalStore creates a new local store instance on top of the database created by factory.
// The store owns the database and closes it in Close.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.Errorf(store.RetCStorageFailure, "failed to open database: %v", err)
	}
	return &storeImpl{db: database}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func validateKey(key string) error {
	if key == "" {
		return store.NewError(store.RetCInvalidArgument, "key must not be empty")
	}
	return nil
}

// storageErr converts an engine error into a *store.Error
func storageErr(op string, err error) error {
	if errors.Is(err, db.ErrClosed) {
		return store.Errorf(store.RetCStorageFailure, "%s: store is closed", op)
	}
	return store.Errorf(store.RetCStorageFailure, "%s: %v", op, err)
}

// decode turns the stored bytes back into a Value
func decode(key string, raw []byte) (store.Value, error) {
	v, err := store.DecodeValue(raw)
	if err != nil {
		return store.Value{}, store.Errorf(store.RetCStorageFailure, "corrupt value for key %q: %v", key, err)
	}
	return v, nil
}

// decodeOptional decodes raw only if loaded is set
func decodeOptional(key string, raw []byte, loaded bool) (store.Value, bool, error) {
	if !loaded {
		return store.Value{}, false, nil
	}
	v, err := decode(key, raw)
	if err != nil {
		return store.Value{}, false, err
	}
	return v, true, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(key string) (store.Value, bool, error) {
	if err := validateKey(key); err != nil {
		return store.Value{}, false, err
	}
	raw, ok, err := s.db.Get(key)
	if err != nil {
		return store.Value{}, false, storageErr("get", err)
	}
	return decodeOptional(key, raw, ok)
}

func (s *storeImpl) Set(key string, value store.Value) (store.Value, bool, error) {
	if err := validateKey(key); err != nil {
		return store.Value{}, false, err
	}
	if !value.IsValid() {
		return store.Value{}, false, store.NewError(store.RetCInvalidArgument, "value must not be empty")
	}
	raw, loaded, err := s.db.Set(key, value.AppendBinary(nil))
	if err != nil {
		return store.Value{}, false, storageErr("set", err)
	}
	return decodeOptional(key, raw, loaded)
}

func (s *storeImpl) Delete(key string) (store.Value, bool, error) {
	if err := validateKey(key); err != nil {
		return store.Value{}, false, err
	}
	raw, loaded, err := s.db.Delete(key)
	if err != nil {
		return store.Value{}, false, storageErr("delete", err)
	}
	return decodeOptional(key, raw, loaded)
}

func (s *storeImpl) Contains(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ok, err := s.db.Has(key)
	if err != nil {
		return false, storageErr("contains", err)
	}
	return ok, nil
}

func (s *storeImpl) GetAll() ([]store.Kvpair, error) {
	entries, err := s.db.GetAll()
	if err != nil {
		return nil, storageErr("get all", err)
	}
	pairs := make([]store.Kvpair, 0, len(entries))
	for _, e := range entries {
		v, err := decode(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, store.Kvpair{Key: e.Key, Value: v})
	}
	return pairs, nil
}

func (s *storeImpl) Iterate(prefix string) (store.Iterator, error) {
	it, err := s.db.Iterate(prefix)
	if err != nil {
		return nil, storageErr("iterate", err)
	}
	return &iterator{it: it}, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	if err := s.db.Close(); err != nil {
		return storageErr("close", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// iterator decodes the entries of a db.Iterator lazily
type iterator struct {
	it  db.Iterator
	cur store.Kvpair
	err error
}

func (i *iterator) Next() bool {
	if i.err != nil || !i.it.Next() {
		return false
	}
	e := i.it.Entry()
	v, err := decode(e.Key, e.Value)
	if err != nil {
		i.err = err
		return false
	}
	i.cur = store.Kvpair{Key: e.Key, Value: v}
	return true
}

func (i *iterator) Pair() store.Kvpair { return i.cur }

func (i *iterator) Err() error {
	if i.err != nil {
		return i.err
	}
	if err := i.it.Err(); err != nil {
		return storageErr("iterate", err)
	}
	return nil
}

func (i *iterator) Close() error {
	return i.it.Close()
}
