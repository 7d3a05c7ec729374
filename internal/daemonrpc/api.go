package daemonrpc

import (
	"context"
	"fmt"
)

// BootstrapToken is the well-known first-run token. walletd accepts it
// until a real token has been generated, and a successful bootstrap login
// must be followed by GenerateToken so the bridge never keeps operating on
// bootstrap credentials.
const BootstrapToken = "bootstrap"

// ChainInfo is the result of the chain_status call once the chain backend
// is running.
type ChainInfo struct {
	BestHeight int64  `json:"best_height"`
	Synced     bool   `json:"synced"`
	Network    string `json:"network"`
}

// GenerateToken asks the daemon to mint a fresh API token, invalidating
// the bootstrap token.
func (c *Client) GenerateToken(ctx context.Context) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.Call(ctx, "token_generate", nil, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", fmt.Errorf("token_generate: daemon returned an empty token")
	}
	return res.Token, nil
}

// ChainStatus reports the chain backend's state. While the backend is
// still starting it returns an error matching ErrChainDisabled, any other
// error means the daemon could not be asked at all.
func (c *Client) ChainStatus(ctx context.Context) (*ChainInfo, error) {
	var res ChainInfo
	if err := c.Call(ctx, "chain_status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
