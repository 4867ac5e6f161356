// Package transport defines how sKV servers listen and clients connect. A
// transport only produces byte streams (net.Conn), framing and dispatch live
// in the frame and server packages.
//
// Key Components:
//
//   - IServerConnector: creates the listener of a server. Connectors that
//     tune accepted sockets also implement IConnUpgrader.
//
//   - IClientConnector: dials an endpoint.
//
//   - WithServerTLS / WithClientTLS: decorate any connector with TLS, so the
//     connection handler works on plaintext and TLS streams alike.
//
// Implementations: tcp (host:port) and unix (socket path).
package transport
