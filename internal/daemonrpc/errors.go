package daemonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes walletd uses in JSON-RPC error responses.
const (
	// CodeUnauthorized is returned when the presented token is not valid.
	CodeUnauthorized = -32001

	// CodeChainDisabled is returned by chain_status while the daemon's
	// chain backend is still starting up.
	CodeChainDisabled = -32801
)

var (
	// ErrUnauthorized reports that the daemon rejected the API token.
	ErrUnauthorized = errors.New("daemon rejected token")

	// ErrClosed reports that no connection is established, or that it
	// dropped mid-call.
	ErrClosed = errors.New("daemon connection closed")

	// ErrChainDisabled reports that the daemon is up but its chain backend
	// has not finished starting.
	ErrChainDisabled = errors.New("chain backend not ready")
)

// Error is a JSON-RPC error response from the daemon.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// Unwrap maps well-known daemon codes to sentinel errors so callers can
// branch with errors.Is.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeChainDisabled:
		return ErrChainDisabled
	}
	return nil
}
