package interfaces

// Connection is one live client channel on the server side.
// ARCHITECTURAL DISCOVERY: Pure abstraction keeps the registry and session
// manager testable without real sockets
type Connection interface {
	// WriteJSON enqueues v for the connection's single writer. Safe for concurrent use.
	WriteJSON(v interface{}) error

	Close() error

	// GetClientID returns the server-assigned client id once registered
	GetClientID() string

	GetHardwareID() string

	// IsAuthenticated returns true after CLIENT_REGISTER succeeded
	IsAuthenticated() bool

	SetCredentials(clientID, hardwareID string) error
}
