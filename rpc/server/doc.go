// Package server implements the sKV RPC server.
//
// A server accepts stream connections from a transport.IServerConnector and
// serves each of them with two goroutines: the read loop decodes request
// frames and runs them through the CommandService, the write loop writes the
// responses in request order and fills the gaps with events of the
// subscriptions owned by the connection.
//
// Key Components:
//
//   - CommandService: runs a request through the hook chains (OnReceived,
//     OnExecuted, OnBeforeSend, OnAfterSend) and dispatches it to either the
//     store adapter or the pub/sub adapter.
//
//   - NewIStoreServerAdapter: executes Get, Set, Delete, Contains, GetAll,
//     Scan and the multi key variants MGet, MSet, MDelete, MContains on a
//     store.IStore.
//
//   - NewPubSubServerAdapter: executes Subscribe, Unsubscribe and Publish on a
//     pubsub.Registry. Subscriptions belong to the connection that created them
//     and are released when it closes.
//
//   - NewKeyValidator, NewKeyGuard, NewLoggingHooks, NewMetricsHooks: ready made
//     hooks for request validation, protected key prefixes, debug logging and
//     request counters.
//
//   - NewRPCServer: the accept loop and connection bookkeeping.
//
// Usage Example:
//
//	registry := pubsub.NewRegistry(pubsub.DefaultConfig())
//	service := server.NewCommandService(
//	  server.NewIStoreServerAdapter(store),
//	  server.NewPubSubServerAdapter(registry),
//	).OnReceived(server.NewKeyValidator(4096, 512*1024))
//
//	s := server.NewRPCServer(
//	  common.DefaultServerConfig(),
//	  tcp.NewTCPServerConnector(),
//	  serializer.NewBinarySerializer(),
//	  service,
//	)
//	if err := s.Serve(); err != nil && !errors.Is(err, server.ErrServerClosed) {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Errors:
//
//	Failed requests (missing keys, invalid arguments, storage failures,
//	rejections of hooks) are answered with a response carrying the status and
//	never close the connection. Framing errors (ErrFrameTooLarge,
//	ErrDecodeFailure) and undecodable requests close the connection.
package server
