package eventsync

// ConnectionState represents the current state of the persistent connection.
type ConnectionState int

const (
	// StateDisconnected means the client is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the client is establishing a connection.
	StateConnecting

	// StateConnected means the handshake succeeded and the client is ready.
	StateConnected

	// StateReconnecting means the client is attempting to reconnect after an unexpected disconnect.
	StateReconnecting
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
}

// Identity is what the identity provider hands to the SDK: an opaque
// token and an optional logout signal.
type Identity struct {
	Token  string
	UserID string
	Logout <-chan struct{}
}

// Session describes the authenticated connection.
type Session struct {
	SessionID string
	UserID    string
	State     ConnectionState
}
