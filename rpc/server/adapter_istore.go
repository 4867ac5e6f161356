package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// NewIStoreServerAdapter creates the adapter that executes storage requests on s
func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(_ context.Context, _ Session, req *common.Request) *common.Response {
	// Check for nil store
	if adapter.store == nil {
		return common.NewErrorResponse(req.Type, common.StatusInternalError, "handler: store is nil")
	}

	// Handle different message types
	switch req.Type {
	case common.MsgTGet:
		val, ok, err := adapter.store.Get(req.Key)
		if err != nil {
			return errorResponse(req.Type, err)
		}
		if !ok {
			return notFound(req)
		}
		return common.NewOKResponse(req.Type, val)

	case common.MsgTSet:
		prev, loaded, err := adapter.store.Set(req.Key, req.Value)
		if err != nil {
			return errorResponse(req.Type, err)
		}
		if loaded {
			return common.NewOKResponse(req.Type, prev)
		}
		return common.NewOKResponse(req.Type)

	case common.MsgTDelete:
		prev, loaded, err := adapter.store.Delete(req.Key)
		if err != nil {
			return errorResponse(req.Type, err)
		}
		if !loaded {
			return notFound(req)
		}
		return common.NewOKResponse(req.Type, prev)

	case common.MsgTContains:
		ok, err := adapter.store.Contains(req.Key)
		if err != nil {
			return errorResponse(req.Type, err)
		}
		return common.NewOKResponse(req.Type, store.NewBool(ok))

	case common.MsgTGetAll:
		pairs, err := adapter.store.GetAll()
		if err != nil {
			return errorResponse(req.Type, err)
		}
		return common.NewPairsResponse(req.Type, pairs)

	case common.MsgTScan:
		return adapter.scan(req)

	case common.MsgTMGet, common.MsgTMSet, common.MsgTMDelete, common.MsgTMContains:
		return adapter.multi(req)

	default:
		return common.NewErrorResponse(req.Type, common.StatusBadRequest,
			fmt.Sprintf("store adapter: unsupported message type: %s", req.Type))
	}
}

// scan drains the iterator of the prefix into one response
func (adapter *iStoreServerAdapterImpl) scan(req *common.Request) *common.Response {
	it, err := adapter.store.Iterate(req.Prefix)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	defer it.Close()

	var pairs []store.Kvpair
	for it.Next() {
		pairs = append(pairs, it.Pair())
	}
	if err := it.Err(); err != nil {
		return errorResponse(req.Type, err)
	}
	return common.NewPairsResponse(req.Type, pairs)
}

// multi executes a multi key request key by key. A missing key yields an
// invalid Value at its position. The first store error aborts the request,
// keys before it stay applied.
func (adapter *iStoreServerAdapterImpl) multi(req *common.Request) *common.Response {
	n := len(req.Keys)
	if req.Type == common.MsgTMSet {
		n = len(req.Pairs)
	}
	values := make([]store.Value, n)

	for i := 0; i < n; i++ {
		var (
			v      store.Value
			loaded bool
			err    error
		)
		switch req.Type {
		case common.MsgTMGet:
			v, loaded, err = adapter.store.Get(req.Keys[i])
		case common.MsgTMSet:
			v, loaded, err = adapter.store.Set(req.Pairs[i].Key, req.Pairs[i].Value)
		case common.MsgTMDelete:
			v, loaded, err = adapter.store.Delete(req.Keys[i])
		case common.MsgTMContains:
			loaded, err = adapter.store.Contains(req.Keys[i])
			v = store.NewBool(loaded)
			loaded = true
		}
		if err != nil {
			return errorResponse(req.Type, err)
		}
		if loaded {
			values[i] = v
		}
	}
	return common.NewOKResponse(req.Type, values...)
}

func notFound(req *common.Request) *common.Response {
	return common.NewErrorResponsef(req.Type, common.StatusNotFound, "key not found: %s", req.Key)
}

// errorResponse maps store errors to a failed response
func errorResponse(t common.MessageType, err error) *common.Response {
	return common.NewErrorResponse(t, common.StatusFromRetCode(store.CodeOf(err)), err.Error())
}
