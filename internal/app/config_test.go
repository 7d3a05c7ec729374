package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/tokenstore"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		Auth: AuthConfig{
			Storage: TokenStorageTypeFile,
			File:    filepath.Join(t.TempDir(), "token"),
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 5280 {
		t.Errorf("Server.Port = %d, want 5280", cfg.Server.Port)
	}
	if cfg.Daemon.WSURL != "ws://127.0.0.1:5279/ws" {
		t.Errorf("Daemon.WSURL = %q, want ws://127.0.0.1:5279/ws", cfg.Daemon.WSURL)
	}
	if cfg.Daemon.HTTPURL != "http://127.0.0.1:5279" {
		t.Errorf("Daemon.HTTPURL = %q, want http://127.0.0.1:5279", cfg.Daemon.HTTPURL)
	}
	if cfg.Daemon.HandshakeTimeout != daemonrpc.DefaultHandshakeTimeout {
		t.Errorf("Daemon.HandshakeTimeout = %v, want %v", cfg.Daemon.HandshakeTimeout, daemonrpc.DefaultHandshakeTimeout)
	}
	if cfg.Connect.ReadinessCeiling != connmgr.DefaultReadinessCeiling {
		t.Errorf("Connect.ReadinessCeiling = %v, want %v", cfg.Connect.ReadinessCeiling, connmgr.DefaultReadinessCeiling)
	}
	if cfg.Connect.BackoffMin != connmgr.DefaultBackoffMin || cfg.Connect.BackoffMax != connmgr.DefaultBackoffMax {
		t.Errorf("Connect backoff = [%v, %v], want [%v, %v]",
			cfg.Connect.BackoffMin, cfg.Connect.BackoffMax, connmgr.DefaultBackoffMin, connmgr.DefaultBackoffMax)
	}
	if cfg.Shutdown.Timeout != DefaultConfigShutdownTimeout {
		t.Errorf("Shutdown.Timeout = %v, want %v", cfg.Shutdown.Timeout, DefaultConfigShutdownTimeout)
	}
	if cfg.Auth.Storage != TokenStorageTypeFile {
		t.Errorf("Auth.Storage = %q, want %q", cfg.Auth.Storage, TokenStorageTypeFile)
	}
	if cfg.Auth.File == "" {
		t.Error("Auth.File should default to a path under the user config dir")
	}
	if !strings.Contains(cfg.Auth.File, "walletbridge") {
		t.Errorf("Auth.File = %q, want a walletbridge config path", cfg.Auth.File)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		LogFormat: LogFormatJSON,
		Server:    ServerConfig{Host: "0.0.0.0", Port: 9999},
		Daemon:    DaemonConfig{WSURL: "ws://10.0.0.5:5279/ws", CallTimeout: time.Minute},
		Connect:   ConnectConfig{ReadinessCeiling: 5 * time.Second},
		Auth:      AuthConfig{Storage: TokenStorageTypeKeyring, KeyringUser: "alice"},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %+v, want explicit host and port kept", cfg.Server)
	}
	if cfg.Daemon.WSURL != "ws://10.0.0.5:5279/ws" {
		t.Errorf("Daemon.WSURL = %q, want explicit value kept", cfg.Daemon.WSURL)
	}
	if cfg.Daemon.CallTimeout != time.Minute {
		t.Errorf("Daemon.CallTimeout = %v, want 1m", cfg.Daemon.CallTimeout)
	}
	if cfg.Connect.ReadinessCeiling != 5*time.Second {
		t.Errorf("Connect.ReadinessCeiling = %v, want 5s", cfg.Connect.ReadinessCeiling)
	}
	if cfg.Auth.KeyringUser != "alice" {
		t.Errorf("Auth.KeyringUser = %q, want alice", cfg.Auth.KeyringUser)
	}

	// Unset fields still get filled in.
	if cfg.Daemon.HTTPURL != DefaultConfigDaemonHTTPURL {
		t.Errorf("Daemon.HTTPURL = %q, want default", cfg.Daemon.HTTPURL)
	}
	if cfg.Daemon.RetryInterval != daemonrpc.DefaultRetryInterval {
		t.Errorf("Daemon.RetryInterval = %v, want default", cfg.Daemon.RetryInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid host",
			mutate:  func(cfg *Config) { cfg.Server.Host = "not a host!" },
			wantErr: true,
		},
		{
			name:    "missing daemon ws url",
			mutate:  func(cfg *Config) { cfg.Daemon.WSURL = "" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(cfg *Config) { cfg.LogFormat = "xml" },
			wantErr: true,
		},
		{
			name:    "unknown storage type",
			mutate:  func(cfg *Config) { cfg.Auth.Storage = "vault" },
			wantErr: true,
		},
		{
			name: "env storage without env_key",
			mutate: func(cfg *Config) {
				cfg.Auth.Storage = TokenStorageTypeEnv
				cfg.Auth.EnvKey = ""
			},
			wantErr: true,
		},
		{
			name: "keyring storage without user",
			mutate: func(cfg *Config) {
				cfg.Auth.Storage = TokenStorageTypeKeyring
				cfg.Auth.KeyringUser = ""
			},
			wantErr: true,
		},
		{
			name: "backoff min above max",
			mutate: func(cfg *Config) {
				cfg.Connect.BackoffMin = time.Second
				cfg.Connect.BackoffMax = 100 * time.Millisecond
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestNewTokenStore(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		cfg := AuthConfig{
			Storage: TokenStorageTypeFile,
			File:    filepath.Join(t.TempDir(), "token"),
		}
		store, err := cfg.NewTokenStore()
		if err != nil {
			t.Fatalf("NewTokenStore() error = %v", err)
		}
		if _, ok := store.(*tokenstore.FileStore); !ok {
			t.Errorf("NewTokenStore() = %T, want *tokenstore.FileStore", store)
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv("WALLETBRIDGE_TEST_TOKEN", "abc")
		cfg := AuthConfig{
			Storage: TokenStorageTypeEnv,
			EnvKey:  "WALLETBRIDGE_TEST_TOKEN",
		}
		store, err := cfg.NewTokenStore()
		if err != nil {
			t.Fatalf("NewTokenStore() error = %v", err)
		}
		if _, ok := store.(*tokenstore.EnvStore); !ok {
			t.Errorf("NewTokenStore() = %T, want *tokenstore.EnvStore", store)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		cfg := AuthConfig{
			Storage:     TokenStorageTypeKeyring,
			KeyringUser: "alice",
		}
		store, err := cfg.NewTokenStore()
		if err != nil {
			t.Fatalf("NewTokenStore() error = %v", err)
		}
		if _, ok := store.(*tokenstore.KeyringStore); !ok {
			t.Errorf("NewTokenStore() = %T, want *tokenstore.KeyringStore", store)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := AuthConfig{Storage: "vault"}
		if _, err := cfg.NewTokenStore(); err == nil {
			t.Error("NewTokenStore() expected error, got nil")
		}
	})
}
