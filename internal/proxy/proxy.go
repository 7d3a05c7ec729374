package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/observability"
	"github.com/torvane/walletbridge/internal/tokensource"
)

// upstreamRPCPath is walletd's JSON-RPC endpoint on its HTTP port.
const upstreamRPCPath = "/rpc"

// Manager is the slice of the connection manager the local API exposes.
type Manager interface {
	// UpdateToken queues an externally supplied token and starts a
	// connection cycle.
	UpdateToken(token string)

	// Status reports the manager's current flags.
	Status() connmgr.Status
}

// Daemon answers chain status queries for the status endpoint.
type Daemon interface {
	ChainStatus(ctx context.Context) (*daemonrpc.ChainInfo, error)
}

// Config carries the local API server's collaborators and the forwarding
// target.
type Config struct {
	// TokenSource supplies the Authorization token for forwarded calls.
	TokenSource oauth2.TokenSource

	// Manager exposes connection state and accepts new tokens.
	Manager Manager

	// Daemon answers chain status queries.
	Daemon Daemon

	// DaemonHTTPURL is walletd's HTTP base URL, e.g. http://127.0.0.1:5279.
	DaemonHTTPURL string

	// Metrics instruments the forwarding path and the token endpoint.
	// Optional.
	Metrics *observability.Metrics
}

// Proxy is the bridge's local HTTP API. It forwards JSON-RPC calls to
// walletd with the validated token attached and serves connection status,
// token updates and metrics to the renderer.
type Proxy struct {
	mux       *http.ServeMux
	server    *http.Server
	manager   Manager
	daemon    Daemon
	daemonURL string
	metrics   *observability.Metrics
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates the local API server forwarding to the daemon at
// cfg.DaemonHTTPURL.
func New(cfg Config) (*Proxy, error) {
	switch {
	case cfg.TokenSource == nil:
		return nil, fmt.Errorf("token source cannot be nil")
	case cfg.Manager == nil:
		return nil, fmt.Errorf("manager cannot be nil")
	case cfg.Daemon == nil:
		return nil, fmt.Errorf("daemon cannot be nil")
	}

	upstream, err := url.Parse(cfg.DaemonHTTPURL)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon HTTP URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid daemon HTTP URL %q: scheme and host required", cfg.DaemonHTTPURL)
	}

	p := &Proxy{
		mux:       http.NewServeMux(),
		manager:   cfg.Manager,
		daemon:    cfg.Daemon,
		daemonURL: cfg.DaemonHTTPURL,
		metrics:   cfg.Metrics,
	}

	forwarder := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = upstream.Scheme
			pr.Out.URL.Host = upstream.Host
			pr.Out.URL.Path = upstreamRPCPath
			pr.Out.Host = upstream.Host
		},
		// FlushInterval: -1 disables periodic flushing, flushing
		// immediately after each write to the client instead. Responses
		// reach the renderer without buffering delays.
		FlushInterval: -1,
		Transport:     &oauth2.Transport{Source: cfg.TokenSource},
		ErrorHandler:  p.handleForwardError,
	}

	var forward http.Handler = forwarder
	if cfg.Metrics != nil {
		forward = promhttp.InstrumentHandlerDuration(cfg.Metrics.RPCDuration, forward)
	}

	logger := slog.Default()

	p.mux.Handle("POST /rpc", applyMiddlewares(forward,
		Logging(logger),
		Recovery,
	))
	p.mux.Handle("POST /token", applyMiddlewares(http.HandlerFunc(p.handleTokenUpdate),
		Logging(logger),
		Recovery,
	))
	p.mux.Handle("GET /status", applyMiddlewares(http.HandlerFunc(p.handleStatus),
		Logging(logger),
		Recovery,
	))
	if cfg.Metrics != nil {
		p.mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// handleForwardError turns transport failures on the forwarding path into
// JSON errors: 503 while no token has been validated yet, 502 when the
// daemon cannot be reached.
func (p *Proxy) handleForwardError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, tokensource.ErrNoToken) {
		writeJSONError(ctx, w, "no validated daemon token yet", http.StatusServiceUnavailable)
		return
	}

	slog.ErrorContext(ctx, "failed to forward RPC to daemon", "error", err)
	writeJSONError(ctx, w, "daemon unreachable", http.StatusBadGateway)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error
// channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: create the listener synchronously to catch
	// port-in-use errors immediately.
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: read entire client request (protects against slow clients)
		WriteTimeout: 5 * time.Minute,  // Inbound: long-running wallet calls stay bounded
		IdleTimeout:  90 * time.Second, // Inbound: keep-alive wait for next request
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
