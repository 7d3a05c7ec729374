package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/torvane/walletbridge/internal/connmgr"
)

// bridgeClientTimeout bounds requests from CLI commands to a running
// bridge.
const bridgeClientTimeout = 10 * time.Second

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage the persisted daemon token",
		Commands: []*cli.Command{
			tokenSetCommand(),
			tokenShowCommand(),
		},
	}
}

func tokenSetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Persist a daemon token, prompting for it when no argument is given",
		ArgsUsage: "[token]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "push",
				Usage: "also hand the token to a running bridge so it reconnects immediately",
			},
		},
		Action: tokenSetAction,
	}
}

func tokenSetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(resolveConfigPath(cmd.String("config")), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	raw := cmd.Args().First()
	if raw == "" {
		raw, err = promptToken()
		if err != nil {
			return err
		}
	}

	token := connmgr.SanitizeToken(raw)
	if token == "" {
		return fmt.Errorf("token is empty after removing non-alphanumeric characters")
	}

	if cmd.Bool("push") {
		bridgeURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := pushToken(ctx, bridgeURL, token); err != nil {
			return err
		}
		fmt.Fprintln(cmd.Writer, "Token handed to running bridge.")
		return nil
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}
	if err := store.Write(ctx, token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}

	fmt.Fprintln(cmd.Writer, "Token saved.")
	return nil
}

// promptToken reads the token from the terminal without echoing it, or
// from piped stdin.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading token from stdin: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, "Token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(b), nil
}

// pushToken POSTs the token to a running bridge's local API. The bridge
// validates it against the daemon and persists it on success.
func pushToken(ctx context.Context, bridgeURL, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}

	endpoint, err := url.JoinPath(bridgeURL, "/token")
	if err != nil {
		return fmt.Errorf("invalid bridge URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: bridgeClientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable at %s: %w", bridgeURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge rejected token: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	return nil
}

func tokenShowCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the persisted daemon token, masked unless --reveal is given",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reveal",
				Usage: "print the full token",
			},
		},
		Action: tokenShowAction,
	}
}

func tokenShowAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(resolveConfigPath(cmd.String("config")), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}

	token, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		fmt.Fprintln(cmd.Writer, "No token persisted.")
		return nil
	}

	if !cmd.Bool("reveal") {
		token = maskToken(token)
	}
	fmt.Fprintln(cmd.Writer, token)
	return nil
}

// maskToken masks the token for display, keeping just enough to recognize
// it.
func maskToken(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
