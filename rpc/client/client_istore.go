package client

import (
	"context"
	"errors"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// NewRPCStore wraps a client into a store.IStore. Every call uses the
// timeout of the client config. Closing the store closes the client.
func NewRPCStore(client *Client) store.IStore {
	return &rpcStore{client: client}
}

type rpcStore struct {
	client *Client
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Get(key string) (value store.Value, loaded bool, err error) {
	value, loaded, err = i.client.Get(context.Background(), key)
	return value, loaded, toStoreError(err)
}

func (i *rpcStore) Set(key string, value store.Value) (prev store.Value, loaded bool, err error) {
	prev, loaded, err = i.client.Set(context.Background(), key, value)
	return prev, loaded, toStoreError(err)
}

func (i *rpcStore) Delete(key string) (prev store.Value, loaded bool, err error) {
	prev, loaded, err = i.client.Delete(context.Background(), key)
	return prev, loaded, toStoreError(err)
}

func (i *rpcStore) Contains(key string) (loaded bool, err error) {
	loaded, err = i.client.Contains(context.Background(), key)
	return loaded, toStoreError(err)
}

func (i *rpcStore) GetAll() (pairs []store.Kvpair, err error) {
	pairs, err = i.client.GetAll(context.Background())
	return pairs, toStoreError(err)
}

// Iterate fetches all matching pairs with one Scan request
func (i *rpcStore) Iterate(prefix string) (store.Iterator, error) {
	pairs, err := i.client.Scan(context.Background(), prefix)
	if err != nil {
		return nil, toStoreError(err)
	}
	return &sliceIterator{pairs: pairs, pos: -1}, nil
}

// GetDBInfo is not implemented for rpc
func (i *rpcStore) GetDBInfo() (info db.DatabaseInfo, err error) {
	return db.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation,
		"the GetDBInfo() method is not implemented in the rpc client adapter")
}

func (i *rpcStore) Close() error {
	if err := i.client.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return toStoreError(err)
	}
	return nil
}

// toStoreError maps failed responses back to store errors
func toStoreError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *common.StatusError
	if !errors.As(err, &statusErr) {
		return store.NewError(store.RetCStorageFailure, err.Error())
	}
	switch statusErr.Status {
	case common.StatusBadRequest:
		return store.NewError(store.RetCInvalidArgument, statusErr.Message)
	case common.StatusForbidden:
		return store.NewError(store.RetCInvalidOperation, statusErr.Message)
	default:
		return store.NewError(store.RetCInternalError, statusErr.Message)
	}
}

type sliceIterator struct {
	pairs []store.Kvpair
	pos   int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.pairs) {
		it.pos = len(it.pairs)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Pair() store.Kvpair { return it.pairs[it.pos] }

func (it *sliceIterator) Err() error { return nil }

func (it *sliceIterator) Close() error { return nil }
