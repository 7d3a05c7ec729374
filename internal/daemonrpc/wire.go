package daemonrpc

import "encoding/json"

const jsonRPCVersion = "2.0"

// request is a JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response envelope. Frames without an ID are
// server notifications and carry Method instead; the client drops those.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// authParams carries the token for the authenticate call that follows the
// WebSocket handshake.
type authParams struct {
	Token string `json:"token"`
}
