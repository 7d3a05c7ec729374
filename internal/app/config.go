package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for
// the persisted daemon token.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// keyringService namespaces walletbridge entries in the OS keyring.
const keyringService = "walletbridge-token"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 5280
	DefaultConfigShutdownTimeout = 10 * time.Second
	DefaultConfigAuthStorage     = TokenStorageTypeFile
	DefaultConfigDaemonWSURL     = "ws://127.0.0.1:5279/ws"
	DefaultConfigDaemonHTTPURL   = "http://127.0.0.1:5279"
)

// ServerConfig holds the local API server's listen address.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// DaemonConfig holds the walletd endpoints and link timeouts.
type DaemonConfig struct {
	// WSURL is the daemon's WebSocket JSON-RPC endpoint.
	WSURL string `json:"ws_url" validate:"required,url"`

	// HTTPURL is the daemon's HTTP base URL, used for the liveness probe
	// and for forwarded RPC calls.
	HTTPURL string `json:"http_url" validate:"required,url"`

	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	CallTimeout      time.Duration `json:"call_timeout"`
	RetryInterval    time.Duration `json:"retry_interval"`
	ProbeTimeout     time.Duration `json:"probe_timeout"`
}

// ConnectConfig holds the connection cycle's timing knobs.
type ConnectConfig struct {
	// ReadinessCeiling bounds how long a cycle waits for the chain
	// backend before treating the daemon as ready anyway.
	ReadinessCeiling time.Duration `json:"readiness_ceiling"`

	// BackoffMin and BackoffMax bound the randomized delay between
	// readiness polls.
	BackoffMin time.Duration `json:"backoff_min"`
	BackoffMax time.Duration `json:"backoff_max"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// AuthConfig describes where the validated daemon token is persisted and
// which candidate tokens seed the first connection cycle.
type AuthConfig struct {
	// Storage configuration - where the persisted token lives
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to token file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier

	// SeedToken is an optional externally supplied candidate, tried after
	// the persisted token and before the bootstrap sentinel.
	SeedToken string `json:"seed_token,omitempty"`
}

// NewTokenStore creates a token store from the authentication configuration.
func (a *AuthConfig) NewTokenStore() (tokenstore.Store, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, a.KeyringUser), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Daemon    DaemonConfig   `json:"daemon"`
	Connect   ConnectConfig  `json:"connect"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Auth      AuthConfig     `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Daemon.WSURL == "" {
		c.Daemon.WSURL = DefaultConfigDaemonWSURL
	}
	if c.Daemon.HTTPURL == "" {
		c.Daemon.HTTPURL = DefaultConfigDaemonHTTPURL
	}
	if c.Daemon.HandshakeTimeout == 0 {
		c.Daemon.HandshakeTimeout = daemonrpc.DefaultHandshakeTimeout
	}
	if c.Daemon.CallTimeout == 0 {
		c.Daemon.CallTimeout = daemonrpc.DefaultCallTimeout
	}
	if c.Daemon.RetryInterval == 0 {
		c.Daemon.RetryInterval = daemonrpc.DefaultRetryInterval
	}
	if c.Daemon.ProbeTimeout == 0 {
		c.Daemon.ProbeTimeout = daemonrpc.DefaultProbeTimeout
	}
	if c.Connect.ReadinessCeiling == 0 {
		c.Connect.ReadinessCeiling = connmgr.DefaultReadinessCeiling
	}
	if c.Connect.BackoffMin == 0 {
		c.Connect.BackoffMin = connmgr.DefaultBackoffMin
	}
	if c.Connect.BackoffMax == 0 {
		c.Connect.BackoffMax = connmgr.DefaultBackoffMax
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "walletbridge", "token")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Connect.BackoffMin > c.Connect.BackoffMax {
		return errors.New("connect.backoff_min cannot exceed connect.backoff_max")
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
