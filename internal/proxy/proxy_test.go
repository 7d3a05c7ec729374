package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/observability"
	"github.com/torvane/walletbridge/internal/tokensource"
)

type stubManager struct {
	mu      sync.Mutex
	updates []string
	status  connmgr.Status
}

func (m *stubManager) UpdateToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, token)
}

func (m *stubManager) Status() connmgr.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *stubManager) tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.updates...)
}

type stubDaemon struct {
	mu    sync.Mutex
	info  *daemonrpc.ChainInfo
	err   error
	calls int
}

func (d *stubDaemon) ChainStatus(ctx context.Context) (*daemonrpc.ChainInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.info, d.err
}

func (d *stubDaemon) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// tokenFn adapts a func to the tokensource.Manager interface.
type tokenFn func() string

func (f tokenFn) Token() string { return f() }

// capturedRequest records what the fake daemon saw.
type capturedRequest struct {
	mu     sync.Mutex
	auth   string
	method string
	path   string
	body   string
}

func (c *capturedRequest) snapshot() (auth, method, path, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth, c.method, c.path, c.body
}

// newFakeDaemonHTTP serves a canned JSON-RPC response and records the
// request it received.
func newFakeDaemonHTTP(t *testing.T) (*httptest.Server, *capturedRequest) {
	t.Helper()

	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.auth = r.Header.Get("Authorization")
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.body = string(body)
		captured.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":"1","result":{"height":42}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewValidatesConfig(t *testing.T) {
	mgr := &stubManager{}
	daemon := &stubDaemon{}
	source := tokensource.Static("tok")

	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing token source",
			cfg:  Config{Manager: mgr, Daemon: daemon, DaemonHTTPURL: "http://127.0.0.1:5279"},
		},
		{
			name: "missing manager",
			cfg:  Config{TokenSource: source, Daemon: daemon, DaemonHTTPURL: "http://127.0.0.1:5279"},
		},
		{
			name: "missing daemon",
			cfg:  Config{TokenSource: source, Manager: mgr, DaemonHTTPURL: "http://127.0.0.1:5279"},
		},
		{
			name: "empty daemon URL",
			cfg:  Config{TokenSource: source, Manager: mgr, Daemon: daemon},
		},
		{
			name: "daemon URL without scheme",
			cfg:  Config{TokenSource: source, Manager: mgr, Daemon: daemon, DaemonHTTPURL: "127.0.0.1:5279"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestForwardsRPCWithBearerToken(t *testing.T) {
	upstream, captured := newFakeDaemonHTTP(t)

	srv := newTestServer(t, Config{
		TokenSource:   tokensource.Static("tok123"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
	})

	reqBody := `{"jsonrpc":"2.0","id":"1","method":"wallet_balance","params":{}}`
	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /rpc error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	if want := `"result":{"height":42}`; !strings.Contains(string(body), want) {
		t.Errorf("response body = %q, want it to contain %q", body, want)
	}

	auth, method, path, upstreamBody := captured.snapshot()
	if auth != "Bearer tok123" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer tok123")
	}
	if method != http.MethodPost {
		t.Errorf("upstream method = %q, want POST", method)
	}
	if path != "/rpc" {
		t.Errorf("upstream path = %q, want /rpc", path)
	}
	if upstreamBody != reqBody {
		t.Errorf("upstream body = %q, want %q", upstreamBody, reqBody)
	}
}

func TestForwardWithoutTokenReturns503(t *testing.T) {
	upstream, captured := newFakeDaemonHTTP(t)

	srv := newTestServer(t, Config{
		TokenSource:   tokensource.FromManager(tokenFn(func() string { return "" })),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
	})

	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /rpc error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "no validated daemon token") {
		t.Errorf("body = %q, want a no-token error", body)
	}

	if _, method, _, _ := captured.snapshot(); method != "" {
		t.Error("upstream was reached, want the request to fail before forwarding")
	}
}

func TestForwardDaemonDownReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstreamURL := upstream.URL
	upstream.Close()

	srv := newTestServer(t, Config{
		TokenSource:   tokensource.Static("tok123"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstreamURL,
	})

	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /rpc error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "daemon unreachable") {
		t.Errorf("body = %q, want a daemon unreachable error", body)
	}
}

func TestRouteGating(t *testing.T) {
	upstream, _ := newFakeDaemonHTTP(t)

	srv := newTestServer(t, Config{
		TokenSource:   tokensource.Static("tok123"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
	})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/rpc", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/token", http.StatusMethodNotAllowed},
		{http.MethodPost, "/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
		// No metrics handler when Config.Metrics is nil
		{http.MethodGet, "/metrics", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatalf("NewRequest error = %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s error = %v", tt.method, tt.path, err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestTokenUpdate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTokens []string
	}{
		{
			name:       "valid token accepted",
			body:       `{"token":"abc-123"}`,
			wantStatus: http.StatusAccepted,
			wantTokens: []string{"abc-123"},
		},
		{
			name:       "invalid JSON rejected",
			body:       `{"token":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty token rejected",
			body:       `{"token":""}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "whitespace token rejected",
			body:       `{"token":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, _ := newFakeDaemonHTTP(t)
			mgr := &stubManager{}

			srv := newTestServer(t, Config{
				TokenSource:   tokensource.Static("tok"),
				Manager:       mgr,
				Daemon:        &stubDaemon{},
				DaemonHTTPURL: upstream.URL,
			})

			resp, err := http.Post(srv.URL+"/token", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /token error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			got := mgr.tokens()
			if len(got) != len(tt.wantTokens) {
				t.Fatalf("manager received %v, want %v", got, tt.wantTokens)
			}
			for i := range got {
				if got[i] != tt.wantTokens[i] {
					t.Errorf("manager received %v, want %v", got, tt.wantTokens)
				}
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		status    connmgr.Status
		chain     *daemonrpc.ChainInfo
		chainErr  error
		wantBody  []string
		skipBody  []string
		wantCalls int
	}{
		{
			name:      "connected with chain info",
			status:    connmgr.Status{Connected: true},
			chain:     &daemonrpc.ChainInfo{BestHeight: 812345, Synced: true, Network: "mainnet"},
			wantBody:  []string{`"connected":true`, `"best_height":812345`, `"network":"mainnet"`},
			wantCalls: 1,
		},
		{
			name:      "connected but chain query fails",
			status:    connmgr.Status{Connected: true},
			chainErr:  fmt.Errorf("link lost"),
			wantBody:  []string{`"connected":true`},
			skipBody:  []string{`"chain"`},
			wantCalls: 1,
		},
		{
			name:     "disconnected skips chain query",
			status:   connmgr.Status{Connecting: true, NeedsToken: true},
			wantBody: []string{`"connected":false`, `"connecting":true`, `"needs_token":true`},
			skipBody: []string{`"chain"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, _ := newFakeDaemonHTTP(t)
			daemon := &stubDaemon{info: tt.chain, err: tt.chainErr}

			srv := newTestServer(t, Config{
				TokenSource:   tokensource.Static("tok"),
				Manager:       &stubManager{status: tt.status},
				Daemon:        daemon,
				DaemonHTTPURL: upstream.URL,
			})

			resp, err := http.Get(srv.URL + "/status")
			if err != nil {
				t.Fatalf("GET /status error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("reading response body: %v", err)
			}
			wantBody := append([]string{`"daemon_url":"` + upstream.URL + `"`}, tt.wantBody...)
			for _, want := range wantBody {
				if !strings.Contains(string(body), want) {
					t.Errorf("body = %s, want it to contain %s", body, want)
				}
			}
			for _, skip := range tt.skipBody {
				if strings.Contains(string(body), skip) {
					t.Errorf("body = %s, want it to omit %s", body, skip)
				}
			}

			if daemon.callCount() != tt.wantCalls {
				t.Errorf("ChainStatus calls = %d, want %d", daemon.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	upstream, _ := newFakeDaemonHTTP(t)
	metrics := observability.NewMetrics()

	srv := newTestServer(t, Config{
		TokenSource:   tokensource.Static("tok"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
		Metrics:       metrics,
	})

	// One forwarded call and one token update should both show up.
	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /rpc error = %v", err)
	}
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/token", "application/json", strings.NewReader(`{"token":"abc"}`))
	if err != nil {
		t.Fatalf("POST /token error = %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	for _, want := range []string{
		`walletbridge_rpc_request_duration_seconds_count{code="200"} 1`,
		`walletbridge_token_updates_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Recovery(panicking).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %q, want an internal server error", rec.Body.String())
	}
}

func TestApplyMiddlewaresOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := applyMiddlewares(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestStartRejectsBusyAddress(t *testing.T) {
	upstream, _ := newFakeDaemonHTTP(t)

	p, err := New(Config{
		TokenSource:   tokensource.Static("tok"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen error = %v", err)
	}
	defer listener.Close()

	if _, err := p.Start(context.Background(), listener.Addr().String()); err == nil {
		t.Error("Start() on a busy address expected error, got nil")
		_ = p.Shutdown(context.Background())
	}
}

func TestStartAndShutdown(t *testing.T) {
	upstream, _ := newFakeDaemonHTTP(t)

	p, err := New(Config{
		TokenSource:   tokensource.Static("tok"),
		Manager:       &stubManager{},
		Daemon:        &stubDaemon{},
		DaemonHTTPURL: upstream.URL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	errCh, err := p.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("runtime error after shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("error channel not closed after shutdown")
	}
}
