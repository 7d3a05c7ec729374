package proxy

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/torvane/walletbridge/internal/connmgr"
	"github.com/torvane/walletbridge/internal/daemonrpc"
)

// maxTokenBodyBytes bounds the token update request body. Tokens are short
// alphanumeric strings.
const maxTokenBodyBytes = 4096

type tokenUpdateRequest struct {
	Token string `json:"token"`
}

type statusResponse struct {
	Connection connmgr.Status       `json:"connection"`
	DaemonURL  string               `json:"daemon_url"`
	Chain      *daemonrpc.ChainInfo `json:"chain,omitempty"`
}

// handleTokenUpdate accepts a token from the renderer and hands it to the
// connection manager. The manager sanitizes and validates it
// asynchronously, so the response is 202 rather than 200.
func (p *Proxy) handleTokenUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTokenBodyBytes)).Decode(&req); err != nil {
		writeJSONError(ctx, w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Token) == "" {
		writeJSONError(ctx, w, "token is required", http.StatusBadRequest)
		return
	}

	p.manager.UpdateToken(req.Token)
	if p.metrics != nil {
		p.metrics.TokenUpdates.Inc()
	}

	writeJSON(ctx, w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}

// handleStatus reports the connection manager's flags, plus chain info
// when the daemon link is up. Chain info failures degrade to a status
// without the chain section instead of failing the request.
func (p *Proxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res := statusResponse{
		Connection: p.manager.Status(),
		DaemonURL:  p.daemonURL,
	}
	if res.Connection.Connected {
		info, err := p.daemon.ChainStatus(ctx)
		if err != nil {
			slog.DebugContext(ctx, "chain status unavailable", "error", err)
		} else {
			res.Chain = info
		}
	}

	writeJSON(ctx, w, res, http.StatusOK)
}
