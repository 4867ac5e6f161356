// Package rpc provides the network layer of sKV. Clients and the server
// exchange length-prefixed frames over a byte stream, every frame carries one
// serialized request or response.
//
// The package is organized into several subpackages:
//
//   - common: Request and Response types, status codes, configuration
//     structures and logging.
//
//   - frame: The wire framing (4 byte big-endian length, optional gzip
//     compression) and its size limits.
//
//   - transport: Network abstractions with pluggable implementations
//     (TCP, Unix sockets) and optional TLS.
//
//   - serializer: Conversion between requests/responses and bytes with
//     multiple formats (Binary, JSON, GOB).
//
//   - client: A pipelining client and a store.IStore backed by it.
//
//   - server: The connection handling server and the CommandService that
//     routes requests to the store and the pub/sub registry.
package rpc
