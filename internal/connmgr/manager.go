package connmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/torvane/walletbridge/internal/daemonrpc"
	"github.com/torvane/walletbridge/internal/tokenstore"
)

const (
	// DefaultReadinessCeiling caps the readiness wait. Once it elapses the
	// daemon is treated as ready even though it never confirmed, a slow
	// chain backend is more likely than a broken one.
	DefaultReadinessCeiling = 30 * time.Second

	// DefaultBackoffMin and DefaultBackoffMax bound the randomized pause
	// between readiness polls.
	DefaultBackoffMin = 250 * time.Millisecond
	DefaultBackoffMax = 750 * time.Millisecond
)

// ErrCandidatesExhausted reports that every candidate token was tried and
// rejected. A new token must be supplied with UpdateToken.
var ErrCandidatesExhausted = errors.New("all candidate tokens rejected")

// Transport is the authenticated daemon link the manager drives.
type Transport interface {
	// SetToken replaces the credential used by the next Connect.
	SetToken(token string)

	// Connect establishes and authenticates a connection with the current
	// token.
	Connect(ctx context.Context) error

	// RetryInterval is the pause before retrying while the daemon
	// endpoint is unreachable.
	RetryInterval() time.Duration

	// OnClose registers a callback for the moment an established
	// connection drops.
	OnClose(fn func())
}

// DaemonAPI is the slice of the daemon's RPC surface the manager needs:
// minting tokens and checking chain readiness.
type DaemonAPI interface {
	GenerateToken(ctx context.Context) (string, error)
	ChainStatus(ctx context.Context) (*daemonrpc.ChainInfo, error)
}

// Prober answers whether the daemon endpoint is reachable at all,
// independent of authentication.
type Prober interface {
	Alive(ctx context.Context) bool
}

// Config carries the manager's collaborators and tunables.
type Config struct {
	Transport Transport
	Daemon    DaemonAPI
	Prober    Prober
	Store     tokenstore.Store

	// SeedToken is an externally supplied credential to try after the
	// persisted one, e.g. from a walletd:// link or the config file. It
	// is sanitized like any other external token.
	SeedToken string

	// ReadinessCeiling caps the readiness wait, zero means
	// DefaultReadinessCeiling.
	ReadinessCeiling time.Duration

	// BackoffMin and BackoffMax bound the randomized pause between
	// readiness polls, zero means the package defaults.
	BackoffMin time.Duration
	BackoffMax time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Connecting bool `json:"connecting"`
	Connected  bool `json:"connected"`
	NeedsToken bool `json:"needs_token"`
}

// candidateToken is one credential in the queue with its per-cycle
// bookkeeping.
type candidateToken struct {
	value string
	tried bool
}

// Manager owns the candidate-token queue and drives connection cycles
// against the daemon. All cycle work happens on a single internal
// goroutine, the exported methods only inspect state or kick that loop.
type Manager struct {
	transport Transport
	daemon    DaemonAPI
	prober    Prober
	store     tokenstore.Store
	log       *slog.Logger

	readinessCeiling time.Duration
	backoffMin       time.Duration
	backoffMax       time.Duration

	mu         sync.Mutex
	candidates []candidateToken
	connecting bool
	connected  bool
	needsToken bool
	token      string
	closed     bool

	onConnecting   func()
	onConnected    func()
	onDisconnected func(err error)

	kick      chan struct{}
	lifeCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Manager and starts its driving loop. The context only
// bounds construction, which reads the persisted token to seed the
// candidate queue. No connection attempt is made until Connect.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	switch {
	case cfg.Transport == nil:
		return nil, fmt.Errorf("transport cannot be nil")
	case cfg.Daemon == nil:
		return nil, fmt.Errorf("daemon API cannot be nil")
	case cfg.Prober == nil:
		return nil, fmt.Errorf("prober cannot be nil")
	case cfg.Store == nil:
		return nil, fmt.Errorf("token store cannot be nil")
	}

	if cfg.ReadinessCeiling <= 0 {
		cfg.ReadinessCeiling = DefaultReadinessCeiling
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax <= cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin + (DefaultBackoffMax - DefaultBackoffMin)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		transport:        cfg.Transport,
		daemon:           cfg.Daemon,
		prober:           cfg.Prober,
		store:            cfg.Store,
		log:              cfg.Logger,
		readinessCeiling: cfg.ReadinessCeiling,
		backoffMin:       cfg.BackoffMin,
		backoffMax:       cfg.BackoffMax,
		kick:             make(chan struct{}, 1),
	}

	persisted, err := cfg.Store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read persisted token: %w", err)
	}
	for _, seed := range []string{persisted, SanitizeToken(cfg.SeedToken), daemonrpc.BootstrapToken} {
		if seed != "" {
			m.candidates = append(m.candidates, candidateToken{value: seed})
		}
	}

	m.lifeCtx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()

	m.transport.OnClose(m.handleTransportClose)

	return m, nil
}

// Connect kicks off a connection cycle. It returns immediately: progress
// is reported through the event callbacks and the Status accessors. While
// a cycle is already running this is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connecting || m.closed {
		return
	}
	m.connecting = true
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// UpdateToken sanitizes the supplied token to its alphanumeric characters,
// queues it ahead of every other candidate and starts a connection cycle.
// Tokens that sanitize to nothing are dropped.
func (m *Manager) UpdateToken(raw string) {
	token := SanitizeToken(raw)
	if token == "" {
		m.log.Debug("Dropping externally supplied token, nothing left after sanitization")
		return
	}

	m.mu.Lock()
	m.candidates = append([]candidateToken{{value: token}}, m.candidates...)
	m.mu.Unlock()

	m.Connect()
}

// Close stops the driving loop and aborts any in-flight cycle. The manager
// cannot be reused afterwards. Close must not be called from an event
// callback.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cancel()
		m.wg.Wait()
	})
}

// OnConnecting registers fn to run at the start of every connection cycle.
// Callbacks run on the manager's driving goroutine and must not block or
// call Close.
func (m *Manager) OnConnecting(fn func()) {
	m.mu.Lock()
	m.onConnecting = fn
	m.mu.Unlock()
}

// OnConnected registers fn to run when a cycle settles connected with a
// different state or token than before. Re-validating the token the
// manager is already connected with stays silent.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	m.onConnected = fn
	m.mu.Unlock()
}

// OnDisconnected registers fn to run when a cycle settles without a
// connection. The error carries the reason, ErrCandidatesExhausted when
// every token was rejected.
func (m *Manager) OnDisconnected(fn func(err error)) {
	m.mu.Lock()
	m.onDisconnected = fn
	m.mu.Unlock()
}

// IsConnecting reports whether a connection cycle is in flight.
func (m *Manager) IsConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connecting
}

// IsConnected reports whether the last cycle settled connected and the
// link has not dropped since.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// NeedsToken reports whether the manager ran out of candidates and waits
// for UpdateToken.
func (m *Manager) NeedsToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsToken
}

// Token returns the last validated credential, or "" before the first
// successful cycle.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Status returns a snapshot of the manager's flags.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connecting: m.connecting,
		Connected:  m.connected,
		NeedsToken: m.needsToken,
	}
}

// run is the driving loop: one goroutine, one cycle at a time.
func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.lifeCtx.Done():
			return
		case <-m.kick:
			m.runCycle(m.lifeCtx)
		}
	}
}

// handleTransportClose restarts the cycle when an established link drops.
// Drops during a running cycle are left alone, the cycle observes the
// failure through its own calls.
func (m *Manager) handleTransportClose() {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if !wasConnected {
		return
	}
	m.log.Info("Daemon connection lost, reconnecting")
	m.Connect()
}

// runCycle walks the candidate queue until it settles connected or
// disconnected. The explicit states keep the retry flow iterative, the
// same candidate can be retried without consuming the queue and without
// growing the stack.
func (m *Manager) runCycle(ctx context.Context) {
	m.fireConnecting()
	m.resetCandidates()

	var (
		state    = stateTryingCandidate
		current  string
		deadline time.Time
		cycleErr error
	)

	for state != stateSettled {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}

		switch state {
		case stateTryingCandidate:
			if current == "" {
				next, ok := m.nextCandidate()
				if !ok {
					cycleErr = ErrCandidatesExhausted
					state = stateSettled
					continue
				}
				current = next
			}

			m.transport.SetToken(current)
			err := m.transport.Connect(ctx)
			if err == nil {
				if current == daemonrpc.BootstrapToken {
					fresh, genErr := m.daemon.GenerateToken(ctx)
					if genErr != nil {
						cycleErr = fmt.Errorf("generate token: %w", genErr)
						state = stateSettled
						continue
					}
					m.log.Info("Generated fresh API token from bootstrap credentials")
					// Queue the minted token as already-tried so future
					// cycles start with it, then authenticate with it now.
					m.addCandidateFront(fresh, true)
					current = fresh
					continue
				}
				deadline = time.Now().Add(m.readinessCeiling)
				state = m.setState(state, stateWaitingForReadiness)
				continue
			}

			if !m.prober.Alive(ctx) {
				state = m.setState(state, stateWaitingForEndpoint)
				continue
			}
			m.log.Debug("Candidate token rejected", "error", err)
			current = ""

		case stateWaitingForEndpoint:
			m.log.Debug("Daemon endpoint unreachable, waiting", "retry_in", m.transport.RetryInterval())
			if !m.sleep(ctx, m.transport.RetryInterval()) {
				cycleErr = ctx.Err()
				state = stateSettled
				continue
			}
			// Same candidate again: unreachable is patience, not a
			// credential failure.
			state = m.setState(state, stateTryingCandidate)

		case stateWaitingForReadiness:
			_, err := m.daemon.ChainStatus(ctx)
			switch {
			case err == nil:
				state = stateSettled
			case errors.Is(err, daemonrpc.ErrChainDisabled):
				if time.Now().After(deadline) {
					m.log.Warn("Readiness wait ceiling reached, treating daemon as ready",
						"ceiling", m.readinessCeiling)
					state = stateSettled
					continue
				}
				if !m.sleep(ctx, m.backoff()) {
					cycleErr = ctx.Err()
					state = stateSettled
				}
			default:
				m.log.Debug("Readiness check failed, discarding candidate", "error", err)
				current = ""
				state = m.setState(state, stateTryingCandidate)
			}
		}
	}

	if cycleErr == nil {
		m.settleConnected(ctx, current)
	} else {
		m.settleDisconnected(cycleErr)
	}
}

func (m *Manager) setState(from, to cycleState) cycleState {
	m.log.Debug("Connection cycle state change", "from", from, "to", to)
	return to
}

func (m *Manager) fireConnecting() {
	m.mu.Lock()
	fn := m.onConnecting
	m.mu.Unlock()

	m.log.Debug("Starting connection cycle")
	if fn != nil {
		fn()
	}
}

// settleConnected persists the validated token before flipping state, so a
// crash right after connecting still leaves the token on disk.
func (m *Manager) settleConnected(ctx context.Context, token string) {
	if err := m.store.Write(ctx, token); err != nil {
		m.log.Error("Failed to persist validated token", "error", err)
	}

	m.mu.Lock()
	changed := !m.connected || m.token != token
	m.connected = true
	m.connecting = false
	m.needsToken = false
	m.token = token
	fn := m.onConnected
	m.mu.Unlock()

	m.log.Info("Connected to daemon")
	if changed && fn != nil {
		fn()
	}
}

func (m *Manager) settleDisconnected(reason error) {
	m.mu.Lock()
	m.connected = false
	m.connecting = false
	m.needsToken = true
	fn := m.onDisconnected
	m.mu.Unlock()

	if errors.Is(reason, context.Canceled) {
		return
	}
	m.log.Warn("Connection cycle ended without a connection", "reason", reason)
	if fn != nil {
		fn(reason)
	}
}

// resetCandidates dedups the queue by value, keeping the first occurrence,
// and clears every tried flag.
func (m *Manager) resetCandidates() {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.candidates))
	kept := m.candidates[:0]
	for _, c := range m.candidates {
		if _, dup := seen[c.value]; dup {
			continue
		}
		seen[c.value] = struct{}{}
		c.tried = false
		kept = append(kept, c)
	}
	m.candidates = kept
}

// nextCandidate returns the first untried candidate and marks it tried.
func (m *Manager) nextCandidate() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.candidates {
		if !m.candidates[i].tried {
			m.candidates[i].tried = true
			return m.candidates[i].value, true
		}
	}
	return "", false
}

func (m *Manager) addCandidateFront(value string, tried bool) {
	m.mu.Lock()
	m.candidates = append([]candidateToken{{value: value, tried: tried}}, m.candidates...)
	m.mu.Unlock()
}

// sleep pauses for d, returning false if the context ended first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff picks a random pause in [BackoffMin, BackoffMax).
func (m *Manager) backoff() time.Duration {
	return m.backoffMin + rand.N(m.backoffMax-m.backoffMin)
}

// SanitizeToken strips everything but ASCII letters and digits, the only
// characters walletd tokens contain.
func SanitizeToken(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
