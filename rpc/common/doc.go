// Package common provides the data structures shared by the sKV server,
// client and CLI. It defines the protocol envelopes, configuration
// structures and the logging setup used by the other packages.
//
// Key Components:
//
//   - Request / Response: the envelopes carried in every frame. A Request
//     names the operation (MessageType) and its arguments, a Response echoes
//     the type and carries a StatusCode plus the payload of the operation.
//     Published values reach subscribers as Responses of type MsgTEvent.
//
//   - StatusCode: HTTP like outcome of a request (200, 400, 403, 404, 500).
//     Response.Err converts a failed response into a *StatusError.
//
//   - ServerConfig / ClientConfig: configuration of the server and the
//     client, with yaml tags for config files and String() renderers for
//     startup logs.
//
//   - Logger: a zerolog backed implementation of dragonboat's logger.ILogger
//     installed as the global logger factory by InitLoggers, so every
//     package can keep using logger.GetLogger(name).
package common
