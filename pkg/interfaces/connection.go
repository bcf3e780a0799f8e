package interfaces

// Connection represents one live client session as seen by the registry and
// the protocol handler.
type Connection interface {
	// ID returns the session identity, unique per accepted connection
	ID() string

	// Send queues a pre-encoded frame without blocking.
	// Implementations return an error instead of waiting when the send
	// buffer is full or the connection is closed.
	Send(payload []byte) error

	// WriteJSON encodes v and queues it, waiting at most the write timeout
	WriteJSON(v interface{}) error

	// CloseWithReason queues a close frame after any pending writes and
	// then tears the session down
	CloseWithReason(code int, reason string) error

	// Close closes the connection and cleans up resources
	Close() error

	// IsClosed reports whether the connection has started closing
	IsClosed() bool

	// IsAuthenticated returns true once the client passed the auth gate
	IsAuthenticated() bool

	// SetAuthenticated marks the connection authenticated. One-way.
	SetAuthenticated()
}
