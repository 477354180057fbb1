package session

// State is the lifecycle state of a [Controller]. Transitions are
// serialised by the controller's mutex; no two transitions run
// concurrently.
type State int

const (
	// StateIdle means no session exists and no resources are held.
	StateIdle State = iota

	// StateConnecting means credential acquisition or the session
	// handshake is in flight. A Stop issued now wins over the pending
	// Active transition.
	StateConnecting

	// StateActive means the session is live: capture frames flow out,
	// agent audio and transcripts flow in.
	StateActive

	// StateStopping means teardown is in progress.
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
