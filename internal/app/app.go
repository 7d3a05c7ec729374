package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/observability"
	"github.com/torvane/walletbridge/internal/proxy"
	"github.com/torvane/walletbridge/internal/tokensource"
	"github.com/torvane/walletbridge/internal/tokenstore"
)

// App orchestrates the lifecycle of the connection manager and the local
// API server.
type App struct {
	cfg     *Config
	client  *daemonrpc.Client
	prober  *daemonrpc.HTTPProber
	store   tokenstore.Store
	metrics *observability.Metrics
}

// New creates a new App instance. No I/O happens here: the token store is
// first read when Start builds the connection manager.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := daemonrpc.New(daemonrpc.Config{
		WSURL:            cfg.Daemon.WSURL,
		HandshakeTimeout: cfg.Daemon.HandshakeTimeout,
		CallTimeout:      cfg.Daemon.CallTimeout,
		RetryInterval:    cfg.Daemon.RetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon client: %w", err)
	}

	prober, err := daemonrpc.NewHTTPProber(cfg.Daemon.HTTPURL, cfg.Daemon.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create liveness prober: %w", err)
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return &App{
		cfg:     cfg,
		client:  client,
		prober:  prober,
		store:   store,
		metrics: observability.NewMetrics(),
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: connection manager first, so the local API can
	// report its state from the first request on.
	manager, err := connmgr.New(gCtx, connmgr.Config{
		Transport:        a.client,
		Daemon:           a.client,
		Prober:           a.prober,
		Store:            a.store,
		SeedToken:        a.cfg.Auth.SeedToken,
		ReadinessCeiling: a.cfg.Connect.ReadinessCeiling,
		BackoffMin:       a.cfg.Connect.BackoffMin,
		BackoffMax:       a.cfg.Connect.BackoffMax,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		manager.Close()
		return a.client.Close()
	})

	a.wireMetrics(manager)

	proxyServer, err := proxy.New(proxy.Config{
		TokenSource:   tokensource.FromManager(manager),
		Manager:       manager,
		Daemon:        a.client,
		DaemonHTTPURL: a.cfg.Daemon.HTTPURL,
		Metrics:       a.metrics,
	})
	if err != nil {
		manager.Close()
		return fmt.Errorf("failed to create local API server: %w", err)
	}

	slog.InfoContext(gCtx, "starting local API server", "address", address)
	proxyErrCh, err := proxyServer.Start(gCtx, address)
	if err != nil {
		manager.Close()
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, proxyServer.Shutdown)

	// Kick off the first connection cycle.
	manager.Connect()

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// wireMetrics translates connection manager events into Prometheus
// instruments. Callbacks all run on the manager's driving goroutine, so
// wasUp needs no locking.
func (a *App) wireMetrics(manager *connmgr.Manager) {
	wasUp := false

	manager.OnConnecting(func() {
		a.metrics.Events.WithLabelValues("connecting").Inc()
		if wasUp {
			a.metrics.Reconnects.Inc()
		}
	})
	manager.OnConnected(func() {
		wasUp = true
		a.metrics.ConnectionUp.Set(1)
		a.metrics.Events.WithLabelValues("connected").Inc()
	})
	manager.OnDisconnected(func(error) {
		wasUp = false
		a.metrics.ConnectionUp.Set(0)
		a.metrics.Events.WithLabelValues("disconnected").Inc()
	})
}
