package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/store/lstore"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/ValentinKolb/sKV/rpc/serializer"
	"github.com/ValentinKolb/sKV/rpc/server"
	"github.com/ValentinKolb/sKV/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a server with a maple store on a random local port and
// returns its address
func startServer(t *testing.T, ser serializer.IRPCSerializer) string {
	t.Helper()

	s, err := lstore.NewLocalStore(func() (db.KVDB, error) { return maple.NewMapleDB(nil), nil })
	require.NoError(t, err)
	registry := pubsub.NewRegistry(pubsub.DefaultConfig())

	svc := server.NewCommandService(server.NewIStoreServerAdapter(s), server.NewPubSubServerAdapter(registry)).
		OnReceived(server.NewKeyValidator(1024, 64*1024), server.NewKeyGuard("sys:"))
	srv := server.NewRPCServer(common.DefaultServerConfig(), tcp.NewTCPServerConnector(), ser, svc)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeListener(listener) }()

	t.Cleanup(func() {
		_ = srv.Close()
		registry.Close()
		_ = s.Close()
	})
	return listener.Addr().String()
}

func dial(t *testing.T, addr string, ser serializer.IRPCSerializer) *Client {
	t.Helper()
	config := common.DefaultClientConfig()
	config.Endpoints = []string{addr}

	c, err := Dial(context.Background(), config, tcp.NewTCPClientConnector(), ser)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receive(t *testing.T, sub *Subscription) store.Value {
	t.Helper()
	select {
	case v := <-sub.C():
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("no value received on %s/%d", sub.Topic, sub.ID)
		return store.Value{}
	}
}

func TestClientKeyValue(t *testing.T) {
	for name, factory := range map[string]func() serializer.IRPCSerializer{
		"Binary": serializer.NewBinarySerializer,
		"JSON":   serializer.NewJSONSerializer,
		"GOB":    serializer.NewGOBSerializer,
	} {
		t.Run(name, func(t *testing.T) {
			addr := startServer(t, factory())
			c := dial(t, addr, factory())
			ctx := context.Background()

			_, loaded, err := c.Set(ctx, "a", store.NewInt(1))
			require.NoError(t, err)
			assert.False(t, loaded)

			v, loaded, err := c.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, loaded)
			assert.True(t, store.NewInt(1).Equal(v))

			prev, loaded, err := c.Set(ctx, "a", store.NewString("one"))
			require.NoError(t, err)
			require.True(t, loaded)
			assert.True(t, store.NewInt(1).Equal(prev))

			ok, err := c.Contains(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)

			prev, loaded, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			require.True(t, loaded)
			assert.True(t, store.NewString("one").Equal(prev))

			_, loaded, err = c.Get(ctx, "a")
			require.NoError(t, err)
			assert.False(t, loaded)

			_, loaded, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			assert.False(t, loaded)

			ok, err = c.Contains(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestClientMultiKey(t *testing.T) {
	for name, factory := range map[string]func() serializer.IRPCSerializer{
		"Binary": serializer.NewBinarySerializer,
		"JSON":   serializer.NewJSONSerializer,
		"GOB":    serializer.NewGOBSerializer,
	} {
		t.Run(name, func(t *testing.T) {
			addr := startServer(t, factory())
			c := dial(t, addr, factory())
			ctx := context.Background()

			_, _, err := c.Set(ctx, "b", store.NewInt(1))
			require.NoError(t, err)

			prev, err := c.MSet(ctx, []store.Kvpair{
				{Key: "a", Value: store.NewString("x")},
				{Key: "b", Value: store.NewInt(2)},
			})
			require.NoError(t, err)
			require.Len(t, prev, 2)
			assert.False(t, prev[0].IsValid())
			assert.True(t, store.NewInt(1).Equal(prev[1]))

			values, err := c.MGet(ctx, "missing", "a", "b")
			require.NoError(t, err)
			require.Len(t, values, 3)
			assert.False(t, values[0].IsValid())
			assert.True(t, store.NewString("x").Equal(values[1]))
			assert.True(t, store.NewInt(2).Equal(values[2]))

			found, err := c.MContains(ctx, "a", "missing", "b")
			require.NoError(t, err)
			assert.Equal(t, []bool{true, false, true}, found)

			removed, err := c.MDelete(ctx, "a", "missing")
			require.NoError(t, err)
			require.Len(t, removed, 2)
			assert.True(t, store.NewString("x").Equal(removed[0]))
			assert.False(t, removed[1].IsValid())

			found, err = c.MContains(ctx, "a", "b")
			require.NoError(t, err)
			assert.Equal(t, []bool{false, true}, found)
		})
	}
}

func TestClientMultiKeyErrors(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	c := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	var statusErr *common.StatusError
	_, err := c.MGet(ctx)
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, common.StatusBadRequest, statusErr.Status)

	_, err = c.MSet(ctx, []store.Kvpair{
		{Key: "user", Value: store.NewInt(1)},
		{Key: "sys:config", Value: store.NewInt(2)},
	})
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, common.StatusForbidden, statusErr.Status)

	found, err := c.MContains(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, found)
}

func TestClientScanAndGetAll(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	c := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := c.Set(ctx, fmt.Sprintf("user:%d", i), store.NewInt(int64(i)))
		require.NoError(t, err)
	}
	_, _, err := c.Set(ctx, "other", store.NewBool(true))
	require.NoError(t, err)

	pairs, err := c.Scan(ctx, "user:")
	require.NoError(t, err)
	assert.Len(t, pairs, 10)

	pairs, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 11)
}

func TestClientErrors(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	c := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	_, _, err := c.Set(ctx, "", store.NewInt(1))
	var statusErr *common.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, common.StatusBadRequest, statusErr.Status)

	_, _, err = c.Set(ctx, "sys:config", store.NewInt(1))
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, common.StatusForbidden, statusErr.Status)

	// the connection is still usable
	_, _, err = c.Set(ctx, "user", store.NewInt(1))
	assert.NoError(t, err)
}

func TestClientConcurrentRequests(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	c := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("w%d:%d", w, i)
				_, _, err := c.Set(ctx, key, store.NewInt(int64(i)))
				if !assert.NoError(t, err) {
					return
				}
				v, loaded, err := c.Get(ctx, key)
				if !assert.NoError(t, err) || !assert.True(t, loaded) {
					return
				}
				got, _ := v.AsInt()
				assert.Equal(t, int64(i), got)
			}
		}(w)
	}
	wg.Wait()

	pairs, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 8*50)
}

func TestClientPubSub(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	subscriber := dial(t, addr, serializer.NewBinarySerializer())
	publisher := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	sub1, err := subscriber.Subscribe(ctx, "news")
	require.NoError(t, err)
	sub2, err := subscriber.Subscribe(ctx, "news")
	require.NoError(t, err)
	assert.NotEqual(t, sub1.ID, sub2.ID)

	n, err := publisher.Publish(ctx, "news", store.NewString("hello"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, store.NewString("hello").Equal(receive(t, sub1)))
	assert.True(t, store.NewString("hello").Equal(receive(t, sub2)))

	require.NoError(t, sub1.Unsubscribe(ctx))
	select {
	case <-sub1.Done():
	default:
		t.Fatal("subscription not ended after Unsubscribe")
	}

	n, err = publisher.Publish(ctx, "news", store.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.NewInt(2).Equal(receive(t, sub2)))

	// the subscriber keeps working as a normal client
	_, _, err = subscriber.Set(ctx, "k", store.NewInt(1))
	assert.NoError(t, err)
}

func TestClientSubscriptionEndsOnClose(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	c := dial(t, addr, serializer.NewBinarySerializer())
	ctx := context.Background()

	sub, err := c.Subscribe(ctx, "news")
	require.NoError(t, err)

	require.NoError(t, c.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ended after Close")
	}

	_, _, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialFails(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	config := common.DefaultClientConfig()
	config.Endpoints = []string{addr}
	config.RetryCount = 1

	_, err = Dial(context.Background(), config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	assert.Error(t, err)

	config.Endpoints = nil
	_, err = Dial(context.Background(), config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	assert.Error(t, err)
}

func TestDialUsesNextEndpoint(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := listener.Addr().String()
	require.NoError(t, listener.Close())

	config := common.DefaultClientConfig()
	config.Endpoints = []string{dead, addr}

	c, err := Dial(context.Background(), config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, addr, c.Endpoint())
}

func TestRPCStore(t *testing.T) {
	addr := startServer(t, serializer.NewBinarySerializer())
	s := NewRPCStore(dial(t, addr, serializer.NewBinarySerializer()))

	_, _, err := s.Set("a:1", store.NewFloat(1.5))
	require.NoError(t, err)
	_, _, err = s.Set("a:2", store.NewBytes([]byte{1, 2}))
	require.NoError(t, err)

	v, loaded, err := s.Get("a:1")
	require.NoError(t, err)
	require.True(t, loaded)
	assert.True(t, store.NewFloat(1.5).Equal(v))

	it, err := s.Iterate("a:")
	require.NoError(t, err)
	count := 0
	for it.Next() {
		assert.Contains(t, []string{"a:1", "a:2"}, it.Pair().Key)
		count++
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.Equal(t, 2, count)

	_, _, err = s.Set("", store.NewInt(1))
	assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))

	_, err = s.GetDBInfo()
	assert.Equal(t, store.RetCUnsupportedOperation, store.CodeOf(err))

	require.NoError(t, s.Close())
	_, _, err = s.Get("a:1")
	assert.Error(t, err)
}
