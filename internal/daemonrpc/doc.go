// Package daemonrpc is the JSON-RPC 2.0 client for the walletd daemon.
//
// Requests travel over a single WebSocket connection that is authenticated
// with an API token right after the handshake. Responses are matched to
// in-flight calls by request ID, so callers may issue concurrent calls over
// one connection. The package also provides the HTTP liveness probe used to
// tell "daemon down" apart from "token rejected" when a connection attempt
// fails.
package daemonrpc
