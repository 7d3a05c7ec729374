package daemonrpc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 3 * time.Second

// livenessPath is walletd's unauthenticated liveness endpoint.
const livenessPath = "/ping"

// HTTPProber answers "is the daemon process up at all" with a HEAD request
// against walletd's HTTP port. It has no retries on purpose: the connection
// manager decides what to do with a failed probe.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for the daemon's HTTP base URL, e.g.
// http://127.0.0.1:5279.
func NewHTTPProber(baseURL string, timeout time.Duration) (*HTTPProber, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("daemon HTTP URL cannot be empty")
	}
	probeURL, err := url.JoinPath(baseURL, livenessPath)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon HTTP URL %q: %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &HTTPProber{
		url:    probeURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Alive reports whether the daemon answered the liveness endpoint with
// status 200. Any other status, and any transport error, counts as down.
func (p *HTTPProber) Alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
