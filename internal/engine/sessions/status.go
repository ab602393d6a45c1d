package sessions

// Status is the lifecycle state of one session.
type Status string

const (
	StatusInitializing   Status = "initializing"
	StatusWaitingPairing Status = "waiting_pairing"
	StatusAuthenticated  Status = "authenticated"
	StatusReady          Status = "ready"
	StatusAuthFailure    Status = "auth_failure"
	StatusDisconnected   Status = "disconnected"
	StatusLoggedOut      Status = "logged_out"
)

// Terminal reports whether a status does not self-heal. The registry never
// auto-retries out of these; callers recreate the session instead.
func (s Status) Terminal() bool {
	return s == StatusAuthFailure || s == StatusLoggedOut
}

// transition returns the status that follows ev from cur, or ok=false when
// the event is not valid in the current state and must be ignored.
func transition(cur Status, ev Event) (next Status, ok bool) {
	switch ev.Type {
	case EventPairingCode:
		// A repeated pairing code while already waiting refreshes the code
		// without a state change.
		if cur == StatusInitializing || cur == StatusWaitingPairing {
			return StatusWaitingPairing, true
		}
	case EventAuthenticated:
		if cur == StatusInitializing || cur == StatusWaitingPairing {
			return StatusAuthenticated, true
		}
	case EventReady:
		if cur == StatusAuthenticated {
			return StatusReady, true
		}
	case EventAuthFailure:
		return StatusAuthFailure, true
	case EventDisconnected:
		if cur == StatusDisconnected && ev.Reason == DisconnectReasonLogout {
			return StatusLoggedOut, true
		}
		if cur == StatusReady || cur == StatusAuthenticated || cur == StatusWaitingPairing || cur == StatusInitializing {
			if ev.Reason == DisconnectReasonLogout {
				return StatusLoggedOut, true
			}
			return StatusDisconnected, true
		}
	}
	return cur, false
}
