// Package connmgr establishes and maintains the authenticated link to the
// walletd daemon.
//
// The manager owns an ordered queue of candidate tokens, seeded from the
// persisted token, an externally supplied token and the well-known
// bootstrap sentinel. A connection cycle walks the queue: push a candidate
// into the transport, connect, and classify failures with a liveness probe
// so "daemon not running yet" is waited out while "token rejected" advances
// to the next candidate. A successful bootstrap login mints a fresh token
// before the cycle completes, and every validated token is written back to
// the store.
//
// Exactly one cycle runs at a time on the manager's driving goroutine.
// Connect and UpdateToken only kick that loop, so callers never block on
// retries, and a transport-level close while connected starts a new cycle
// automatically.
package connmgr
