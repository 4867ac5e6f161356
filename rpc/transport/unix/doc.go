// Package unix implements the Unix domain socket connectors of the sKV
// transport layer, for clients running on the same machine as the server.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners. A stale socket file at
//     the endpoint path is removed before listening.
package unix
