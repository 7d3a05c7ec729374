package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Query a running bridge for its daemon connection status",
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(resolveConfigPath(cmd.String("config")), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	bridgeURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	endpoint, err := url.JoinPath(bridgeURL, "/status")
	if err != nil {
		return fmt.Errorf("invalid bridge URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: bridgeClientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable at %s: %w", bridgeURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response from bridge: %s", resp.Status)
	}

	var status struct {
		Connection connmgr.Status       `json:"connection"`
		DaemonURL  string               `json:"daemon_url"`
		Chain      *daemonrpc.ChainInfo `json:"chain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}

	w := cmd.Writer
	fmt.Fprintf(w, "Daemon:      %s\n", status.DaemonURL)
	fmt.Fprintf(w, "Connected:   %v\n", status.Connection.Connected)
	fmt.Fprintf(w, "Connecting:  %v\n", status.Connection.Connecting)
	fmt.Fprintf(w, "Needs token: %v\n", status.Connection.NeedsToken)
	if status.Chain != nil {
		fmt.Fprintf(w, "Network:     %s\n", status.Chain.Network)
		fmt.Fprintf(w, "Best height: %d\n", status.Chain.BestHeight)
		fmt.Fprintf(w, "Synced:      %v\n", status.Chain.Synced)
	}

	return nil
}
