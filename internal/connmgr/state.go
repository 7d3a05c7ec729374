package connmgr

// cycleState is the phase of the connection cycle's driving loop.
type cycleState int

const (
	// stateIdle means no cycle is running.
	stateIdle cycleState = iota

	// stateTryingCandidate means a candidate token is being pushed into
	// the transport and a connect attempt made with it.
	stateTryingCandidate

	// stateWaitingForEndpoint means the daemon endpoint is unreachable,
	// the cycle pauses and then retries the same candidate.
	stateWaitingForEndpoint

	// stateWaitingForReadiness means a candidate authenticated and the
	// cycle is polling until the chain backend reports ready.
	stateWaitingForReadiness

	// stateSettled means the cycle concluded, connected or not.
	stateSettled
)

func (s cycleState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateTryingCandidate:
		return "trying_candidate"
	case stateWaitingForEndpoint:
		return "waiting_for_endpoint"
	case stateWaitingForReadiness:
		return "waiting_for_readiness"
	case stateSettled:
		return "settled"
	}
	return "unknown"
}
