// Package tcp implements the TCP connectors of the sKV transport layer.
//
// Key Components:
//
//   - serverConnector: creates TCP listeners and applies socket options
//     (TCP_NODELAY, keep-alive, buffer sizes, linger) to accepted connections
//
//   - clientConnector: dials TCP endpoints with TCP_NODELAY enabled
//
// The default socket buffer size is set to 512 KB, which provides good performance
// for typical workloads, but can be customized through Options.
package tcp
