// Package client implements the RPC client of the sKV server.
//
// A Client owns one connection. Requests may be issued from any number of
// goroutines: they are written one frame at a time and their responses are
// matched in FIFO order, the server answers the requests of a connection in
// the order they were received. Frames of type event are routed to the
// Subscription they belong to.
//
// Key Components:
//
//   - Dial: connects to the first reachable endpoint of a common.ClientConfig
//     through a transport.IClientConnector.
//
//   - Client: typed methods for all commands (Get, Set, Delete, Contains,
//     GetAll, Scan, MGet, MSet, MDelete, MContains, Publish, Subscribe,
//     Unsubscribe) and Do for raw requests.
//
//   - NewRPCStore: wraps a Client into a store.IStore, so remote stores can
//     be used wherever a local one is expected.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Endpoints = []string{"localhost:8000"}
//
//	c, err := client.Dial(ctx, config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	sub, _ := c.Subscribe(ctx, "news")
//	go func() {
//	  for v := range sub.C() {
//	    fmt.Println(v)
//	  }
//	}()
//	c.Publish(ctx, "news", store.NewString("hello"))
//
// The client does not reconnect. Once Done() is closed all pending and future
// requests fail and every subscription has ended.
package client
