package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/lstore"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSession records the subscriptions handed to it
type testSession struct {
	mu   sync.Mutex
	subs map[subKey]func()
}

func newTestSession() *testSession {
	return &testSession{subs: make(map[subKey]func())}
}

func (s *testSession) ID() string { return "test" }

func (s *testSession) AddSubscription(sub *pubsub.Subscription, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[subKey{sub.Topic, sub.ID}] = release
}

func (s *testSession) RemoveSubscription(topic string, id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[subKey{topic, id}]; !ok {
		return false
	}
	delete(s.subs, subKey{topic, id})
	return true
}

func newTestService(t *testing.T) (*CommandService, store.IStore, *pubsub.Registry) {
	t.Helper()
	s, err := lstore.NewLocalStore(func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	registry := pubsub.NewRegistry(pubsub.Config{BufferSize: 4, PublishTimeout: 50 * time.Millisecond})
	t.Cleanup(registry.Close)

	return NewCommandService(NewIStoreServerAdapter(s), NewPubSubServerAdapter(registry)), s, registry
}

func TestServiceStorage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sess := newTestSession()

	resp := svc.Execute(ctx, sess, common.NewGetRequest("a"))
	assert.Equal(t, common.StatusNotFound, resp.Status)
	assert.Equal(t, common.MsgTGet, resp.Type)

	resp = svc.Execute(ctx, sess, common.NewSetRequest("a", store.NewInt(1)))
	require.Equal(t, common.StatusOK, resp.Status)
	assert.Empty(t, resp.Values)

	resp = svc.Execute(ctx, sess, common.NewSetRequest("a", store.NewInt(2)))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 1)
	assert.True(t, store.NewInt(1).Equal(resp.Values[0]), "set returns the previous value")

	resp = svc.Execute(ctx, sess, common.NewGetRequest("a"))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 1)
	assert.True(t, store.NewInt(2).Equal(resp.Values[0]))

	resp = svc.Execute(ctx, sess, common.NewContainsRequest("a"))
	require.Len(t, resp.Values, 1)
	assert.True(t, store.NewBool(true).Equal(resp.Values[0]))

	svc.Execute(ctx, sess, common.NewSetRequest("b:1", store.NewString("x")))
	svc.Execute(ctx, sess, common.NewSetRequest("b:2", store.NewString("y")))

	resp = svc.Execute(ctx, sess, common.NewGetAllRequest())
	require.Equal(t, common.StatusOK, resp.Status)
	assert.Len(t, resp.Pairs, 3)

	resp = svc.Execute(ctx, sess, common.NewScanRequest("b:"))
	require.Equal(t, common.StatusOK, resp.Status)
	keys := make([]string, 0, len(resp.Pairs))
	for _, p := range resp.Pairs {
		keys = append(keys, p.Key)
	}
	assert.ElementsMatch(t, []string{"b:1", "b:2"}, keys)

	resp = svc.Execute(ctx, sess, common.NewDeleteRequest("a"))
	require.Equal(t, common.StatusOK, resp.Status)
	resp = svc.Execute(ctx, sess, common.NewDeleteRequest("a"))
	assert.Equal(t, common.StatusNotFound, resp.Status)

	resp = svc.Execute(ctx, sess, common.NewContainsRequest("a"))
	require.Len(t, resp.Values, 1)
	assert.True(t, store.NewBool(false).Equal(resp.Values[0]))
}

func TestServiceMultiKey(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	sess := newTestSession()

	_, _, err := s.Set("b", store.NewInt(1))
	require.NoError(t, err)

	resp := svc.Execute(ctx, sess, common.NewMSetRequest([]store.Kvpair{
		{Key: "a", Value: store.NewString("x")},
		{Key: "b", Value: store.NewInt(2)},
	}))
	require.Equal(t, common.StatusOK, resp.Status)
	assert.Equal(t, common.MsgTMSet, resp.Type)
	require.Len(t, resp.Values, 2)
	assert.False(t, resp.Values[0].IsValid(), "a had no previous value")
	assert.True(t, store.NewInt(1).Equal(resp.Values[1]))

	resp = svc.Execute(ctx, sess, common.NewMGetRequest("a", "missing", "b"))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 3)
	assert.True(t, store.NewString("x").Equal(resp.Values[0]))
	assert.False(t, resp.Values[1].IsValid())
	assert.True(t, store.NewInt(2).Equal(resp.Values[2]))

	resp = svc.Execute(ctx, sess, common.NewMContainsRequest("a", "missing"))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 2)
	assert.True(t, store.NewBool(true).Equal(resp.Values[0]))
	assert.True(t, store.NewBool(false).Equal(resp.Values[1]))

	resp = svc.Execute(ctx, sess, common.NewMDeleteRequest("a", "missing"))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 2)
	assert.True(t, store.NewString("x").Equal(resp.Values[0]))
	assert.False(t, resp.Values[1].IsValid())

	ok, err := s.Contains("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceMultiKeyStopsAtFirstError(t *testing.T) {
	svc, s, _ := newTestService(t)

	// the store rejects the empty key, the pair before it is already written
	resp := svc.Execute(context.Background(), newTestSession(), common.NewMSetRequest([]store.Kvpair{
		{Key: "a", Value: store.NewInt(1)},
		{Key: "", Value: store.NewInt(2)},
		{Key: "c", Value: store.NewInt(3)},
	}))
	assert.Equal(t, common.StatusBadRequest, resp.Status)
	assert.Equal(t, common.MsgTMSet, resp.Type)
	assert.Empty(t, resp.Values)

	ok, err := s.Contains("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Contains("c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceInvalidArgument(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp := svc.Execute(context.Background(), newTestSession(), common.NewSetRequest("", store.NewInt(1)))
	assert.Equal(t, common.StatusBadRequest, resp.Status)
	assert.NotEmpty(t, resp.Message)
}

func TestServiceUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, typ := range []common.MessageType{common.MsgTUnknown, common.MsgTEvent, common.MsgTError, 200} {
		resp := svc.Execute(context.Background(), newTestSession(), &common.Request{Type: typ})
		assert.Equal(t, common.StatusBadRequest, resp.Status, "type %d", typ)
	}
}

func TestServicePubSub(t *testing.T) {
	svc, _, registry := newTestService(t)
	ctx := context.Background()
	sess := newTestSession()

	resp := svc.Execute(ctx, sess, common.NewSubscribeRequest("news"))
	require.Equal(t, common.StatusOK, resp.Status)
	assert.Equal(t, "news", resp.Topic)
	assert.NotZero(t, resp.SubscriptionID)
	assert.Equal(t, 1, registry.NumSubscribers("news"))

	resp = svc.Execute(ctx, sess, common.NewPublishRequest("news", store.NewString("hello")))
	require.Equal(t, common.StatusOK, resp.Status)
	require.Len(t, resp.Values, 1)
	assert.True(t, store.NewInt(1).Equal(resp.Values[0]))

	resp = svc.Execute(ctx, sess, common.NewPublishRequest("nobody", store.NewString("hello")))
	require.Equal(t, common.StatusOK, resp.Status)
	assert.True(t, store.NewInt(0).Equal(resp.Values[0]))

	resp = svc.Execute(ctx, sess, common.NewPublishRequest("news", store.Value{}))
	assert.Equal(t, common.StatusBadRequest, resp.Status)

	resp = svc.Execute(ctx, sess, common.NewSubscribeRequest(""))
	assert.Equal(t, common.StatusBadRequest, resp.Status)
}

func TestServiceUnsubscribeOwnership(t *testing.T) {
	svc, _, registry := newTestService(t)
	ctx := context.Background()
	owner, other := newTestSession(), newTestSession()

	resp := svc.Execute(ctx, owner, common.NewSubscribeRequest("news"))
	require.Equal(t, common.StatusOK, resp.Status)
	id := resp.SubscriptionID

	// not the owner: success, but nothing happens
	resp = svc.Execute(ctx, other, common.NewUnsubscribeRequest("news", id))
	assert.Equal(t, common.StatusOK, resp.Status)
	assert.Equal(t, 1, registry.NumSubscribers("news"))

	resp = svc.Execute(ctx, owner, common.NewUnsubscribeRequest("news", id))
	assert.Equal(t, common.StatusOK, resp.Status)
	assert.Equal(t, 0, registry.NumSubscribers("news"))

	// unknown ids are a success as well
	resp = svc.Execute(ctx, owner, common.NewUnsubscribeRequest("news", id))
	assert.Equal(t, common.StatusOK, resp.Status)
}

func TestServiceHookOrder(t *testing.T) {
	svc, s, _ := newTestService(t)
	var calls []string

	svc.OnReceived(func(_ context.Context, _ *common.Request) *common.Response {
		calls = append(calls, "received")
		return nil
	})
	svc.OnExecuted(func(_ context.Context, _ *common.Request, _ *common.Response) *common.Response {
		calls = append(calls, "executed")
		return nil
	})
	svc.OnBeforeSend(func(_ context.Context, _ *common.Request, resp *common.Response) *common.Response {
		calls = append(calls, "before-send")
		resp.Message = "touched"
		return nil
	})
	svc.OnAfterSend(func(_ *common.Request, _ *common.Response) {
		calls = append(calls, "after-send")
	})

	req := common.NewSetRequest("k", store.NewString("v"))
	resp := svc.Execute(context.Background(), newTestSession(), req)
	svc.AfterSend(req, resp)

	assert.Equal(t, []string{"received", "executed", "before-send", "after-send"}, calls)
	assert.Equal(t, "touched", resp.Message)

	ok, err := s.Contains("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServiceRejectingHookSkipsStorage(t *testing.T) {
	svc, s, _ := newTestService(t)
	svc.OnReceived(NewKeyGuard("admin:"))

	resp := svc.Execute(context.Background(), newTestSession(), common.NewSetRequest("admin:root", store.NewString("x")))
	assert.Equal(t, common.StatusForbidden, resp.Status)

	ok, err := s.Contains("admin:root")
	require.NoError(t, err)
	assert.False(t, ok, "rejected request must not reach the store")

	// reads are not guarded
	resp = svc.Execute(context.Background(), newTestSession(), common.NewGetRequest("admin:root"))
	assert.Equal(t, common.StatusNotFound, resp.Status)

	// one protected key rejects the whole multi key request
	resp = svc.Execute(context.Background(), newTestSession(), common.NewMSetRequest([]store.Kvpair{
		{Key: "user:1", Value: store.NewInt(1)},
		{Key: "admin:root", Value: store.NewInt(2)},
	}))
	assert.Equal(t, common.StatusForbidden, resp.Status)
	ok, err = s.Contains("user:1")
	require.NoError(t, err)
	assert.False(t, ok)

	resp = svc.Execute(context.Background(), newTestSession(), common.NewMDeleteRequest("user:1", "admin:root"))
	assert.Equal(t, common.StatusForbidden, resp.Status)

	resp = svc.Execute(context.Background(), newTestSession(), common.NewMGetRequest("admin:root"))
	assert.Equal(t, common.StatusOK, resp.Status)
}

func TestServiceReplacingHookEndsChain(t *testing.T) {
	svc, _, _ := newTestService(t)
	secondCalled := false

	svc.OnExecuted(func(_ context.Context, req *common.Request, _ *common.Response) *common.Response {
		return common.NewErrorResponse(req.Type, common.StatusInternalError, "replaced")
	})
	svc.OnExecuted(func(_ context.Context, _ *common.Request, _ *common.Response) *common.Response {
		secondCalled = true
		return nil
	})

	resp := svc.Execute(context.Background(), newTestSession(), common.NewGetRequest("k"))
	assert.Equal(t, "replaced", resp.Message)
	assert.False(t, secondCalled)
}

func TestKeyValidator(t *testing.T) {
	hook := NewKeyValidator(4, 8)
	ctx := context.Background()

	assert.Nil(t, hook(ctx, common.NewGetRequest("abcd")))
	assert.Nil(t, hook(ctx, common.NewSetRequest("k", store.NewString("12345678"))))
	assert.Nil(t, hook(ctx, common.NewGetAllRequest()))
	assert.Nil(t, hook(ctx, common.NewScanRequest("")))
	assert.Nil(t, hook(ctx, common.NewMGetRequest("a", "abcd")))
	assert.Nil(t, hook(ctx, common.NewMSetRequest([]store.Kvpair{{Key: "a", Value: store.NewInt(1)}})))

	rejected := []*common.Request{
		common.NewGetRequest(""),
		common.NewGetRequest("abcde"),
		common.NewSetRequest("k", store.NewString("123456789")),
		common.NewSetRequest("k", store.Value{}),
		common.NewScanRequest("abcde"),
		common.NewSubscribeRequest(""),
		common.NewPublishRequest("abcde", store.NewInt(1)),
		common.NewMGetRequest(),
		common.NewMGetRequest("a", ""),
		common.NewMDeleteRequest("abcde"),
		common.NewMContainsRequest("a", "abcde"),
		common.NewMSetRequest(nil),
		common.NewMSetRequest([]store.Kvpair{{Key: "a", Value: store.Value{}}}),
		common.NewMSetRequest([]store.Kvpair{{Key: "a", Value: store.NewString("123456789")}}),
		common.NewMSetRequest([]store.Kvpair{{Key: "abcde", Value: store.NewInt(1)}}),
	}
	for _, req := range rejected {
		resp := hook(ctx, req)
		if assert.NotNil(t, resp, "%s should be rejected", req.Type) {
			assert.Equal(t, common.StatusBadRequest, resp.Status)
			assert.Equal(t, req.Type, resp.Type)
		}
	}
}

func TestMetricsHooks(t *testing.T) {
	svc, _, _ := newTestService(t)
	set := metrics.NewSet()
	svc.OnExecuted(NewMetricsHooks(set))

	svc.Execute(context.Background(), newTestSession(), common.NewGetRequest("missing"))
	svc.Execute(context.Background(), newTestSession(), common.NewGetRequest("missing"))

	counter := set.GetOrCreateCounter(requestCounterName(common.MsgTGet, common.StatusNotFound))
	assert.Equal(t, uint64(2), counter.Get())
	assert.Equal(t, `skv_requests_total{type="get",status="404"}`, requestCounterName(common.MsgTGet, common.StatusNotFound))
}
