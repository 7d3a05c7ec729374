package daemonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	// DefaultHandshakeTimeout bounds Connect: the WebSocket dial plus the
	// authenticate round-trip.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultCallTimeout bounds a single RPC round-trip.
	DefaultCallTimeout = 30 * time.Second

	// DefaultRetryInterval is how long callers should wait before retrying
	// while the daemon endpoint is unreachable.
	DefaultRetryInterval = 2 * time.Second
)

// Config holds the client's connection parameters. Zero timeouts fall back
// to the package defaults.
type Config struct {
	// WSURL is the daemon's WebSocket endpoint, e.g. ws://127.0.0.1:5279/ws.
	WSURL string

	// HandshakeTimeout bounds Connect: dial plus authentication.
	HandshakeTimeout time.Duration

	// CallTimeout bounds a single Call round-trip.
	CallTimeout time.Duration

	// RetryInterval is the pause between connection attempts while the
	// daemon endpoint is down.
	RetryInterval time.Duration
}

// Client is a JSON-RPC client over a WebSocket connection to walletd.
//
// Connect establishes and authenticates a connection, Call issues requests
// over it. A Client survives reconnects: when the connection drops, the
// registered close callback fires once and a later Connect starts a fresh
// link with the current token.
type Client struct {
	cfg Config

	mu      sync.Mutex
	token   string
	link    *link
	onClose func()
}

// New creates a Client for the daemon at cfg.WSURL.
func New(cfg Config) (*Client, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("daemon WebSocket URL cannot be empty")
	}
	u, err := url.Parse(cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon WebSocket URL %q: %w", cfg.WSURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("daemon WebSocket URL %q must use ws:// or wss://", cfg.WSURL)
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	return &Client{cfg: cfg}, nil
}

// SetToken replaces the token used by the next Connect. The active
// connection, if any, keeps the credentials it authenticated with.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// OnClose registers fn to run each time an authenticated connection drops.
// It is not called for connections the client tears down itself, and fires
// at most once per connection.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// RetryInterval is the configured pause between connection attempts while
// the daemon endpoint is unreachable.
func (c *Client) RetryInterval() time.Duration {
	return c.cfg.RetryInterval
}

// Connect dials the daemon and authenticates with the current token. Any
// previous connection is torn down first without firing the close callback.
// On success the connection is ready for Call and the close callback is
// armed for the moment it later drops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	old := c.link
	c.link = nil
	token := c.token
	c.mu.Unlock()
	if old != nil {
		_ = old.conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.WSURL, err)
	}

	l := newLink(conn)
	go c.readLoop(l)

	if err := c.call(dialCtx, l, "authenticate", authParams{Token: token}, nil); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return fmt.Errorf("authenticate: %w", err)
	}

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()

	// The connection may have dropped between the authenticate response
	// and publication. Unpublish it so the close callback stays quiet and
	// the caller sees a plain failure.
	if l.dead() {
		c.mu.Lock()
		if c.link == l {
			c.link = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", ErrClosed)
	}

	slog.Debug("Daemon connection established", "url", c.cfg.WSURL)
	return nil
}

// Call issues a JSON-RPC request over the active connection and decodes
// the result into result when it is non-nil. Well-known daemon error codes
// surface as errors matching ErrUnauthorized or ErrChainDisabled.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	return c.call(ctx, l, method, params, result)
}

// Close tears down the active connection without firing the close
// callback. The client may be reused with a later Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.conn.Close(websocket.StatusNormalClosure, "client closed")
}

func (c *Client) call(ctx context.Context, l *link, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	id := uuid.NewString()
	ch, err := l.register(id)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer l.unregister(id)

	req := request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
	l.writeMu.Lock()
	err = wsjson.Write(ctx, l.conn, req)
	l.writeMu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// readLoop owns reads on one connection. It exits when the connection
// drops, failing in-flight calls and reporting the loss.
func (c *Client) readLoop(l *link) {
	for {
		var resp response
		if err := wsjson.Read(context.Background(), l.conn, &resp); err != nil {
			if !isExpectedClose(err) {
				slog.Debug("Daemon connection read failed", "error", err)
			}
			l.fail()
			c.handleClose(l)
			return
		}
		if resp.ID != "" {
			l.deliver(resp)
		}
	}
}

// handleClose retires l if it is still the active connection and fires the
// close callback. Links that were never published, or were already
// replaced, stay silent.
func (c *Client) handleClose(l *link) {
	c.mu.Lock()
	var fn func()
	if c.link == l {
		c.link = nil
		fn = c.onClose
	}
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

// isExpectedClose reports whether err is a deliberate close rather than a
// transport failure.
func isExpectedClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// link is one established WebSocket connection. A fresh link is created on
// every Connect so responses from a dying connection can never be delivered
// to calls made on its successor.
type link struct {
	conn *websocket.Conn

	// writeMu serializes frame writes, reads belong to the read loop alone.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan response
	closed  bool
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn:    conn,
		pending: make(map[string]chan response),
	}
}

// register adds a pending call slot for the given request ID.
func (l *link) register(id string) (chan response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	ch := make(chan response, 1)
	l.pending[id] = ch
	return ch, nil
}

func (l *link) unregister(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// deliver routes a response to its waiting call, dropping unknown IDs.
func (l *link) deliver(resp response) {
	l.mu.Lock()
	ch, ok := l.pending[resp.ID]
	if ok {
		delete(l.pending, resp.ID)
	}
	l.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// fail marks the link dead and wakes every pending call with ErrClosed.
func (l *link) fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func (l *link) dead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
