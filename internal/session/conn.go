package session

// Conn is a transport handle attached to a session. Implemented by the
// websocket client; small so tests can fake it.
type Conn interface {
	// ID returns a stable identifier for this connection.
	ID() string

	// Send queues a frame for delivery. Returns false if the connection is
	// gone or its buffer is full; the caller skips it (best-effort fan-out).
	Send(frame []byte) bool
}

// syncState tracks the per-connection handshake progress. Each connection
// runs its own handshake independently against the shared session state.
type syncState int

const (
	stateConnected syncState = iota
	stateSyncing
	stateSynced
)
