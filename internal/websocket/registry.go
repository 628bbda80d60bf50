package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/metrics"
	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// DisconnectHook is called after a client's current connection is removed
type DisconnectHook func(ctx context.Context, clientID string)

// Registry tracks the one live connection per client and implements
// interfaces.Notifier on top of it.
// ARCHITECTURAL DISCOVERY: Pure connection bookkeeping; session state stays
// in the session manager, which learns about disconnects through the hook.
type Registry struct {
	mu           sync.RWMutex                     // read-heavy: every push looks up a connection
	connections  map[string]interfaces.Connection // clientID -> Connection
	onDisconnect DisconnectHook
	logger       zerolog.Logger
}

// NewRegistry creates a new connection registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

// SetDisconnectHook installs fn; call before serving connections
func (r *Registry) SetDisconnectHook(fn DisconnectHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

// RegisterConnection makes conn the client's current connection.
// FUNCTIONAL DISCOVERY: A previous connection for the same client is closed
// asynchronously so registration never waits on a dying socket.
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	clientID := conn.GetClientID()

	r.mu.Lock()
	existing, replaced := r.connections[clientID]
	r.connections[clientID] = conn
	count := len(r.connections)
	r.mu.Unlock()

	if replaced && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Debug().Err(err).Str("client_id", clientID).Msg("Failed to close replaced connection")
			}
		}()
		r.logger.Info().Str("client_id", clientID).Msg("Replaced existing connection")
	}

	metrics.ConnectedClients.Set(float64(count))
	return nil
}

// UnregisterConnection removes conn if it is still the client's current
// connection, then runs the disconnect hook.
// RACE CONDITION FIX: a replaced connection cleaning up late must not
// remove (or mark offline) its successor.
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	clientID := conn.GetClientID()

	r.mu.Lock()
	registered, exists := r.connections[clientID]
	if !exists || registered != conn {
		r.mu.Unlock()
		return
	}
	delete(r.connections, clientID)
	count := len(r.connections)
	hook := r.onDisconnect
	r.mu.Unlock()

	metrics.ConnectedClients.Set(float64(count))

	if hook != nil {
		hook(context.Background(), clientID)
	}
}

// GetClientConnection returns the current connection for a client
func (r *Registry) GetClientConnection(clientID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[clientID]
	return conn, exists
}

// Send pushes envelope to the client's current connection.
// ClientOffline covers both "no connection" and a write that failed.
func (r *Registry) Send(clientID string, envelope protocol.Envelope) types.DeliveryStatus {
	status := types.ClientOffline
	if conn, ok := r.GetClientConnection(clientID); ok {
		if err := conn.WriteJSON(envelope); err != nil {
			r.logger.Warn().Err(err).Str("client_id", clientID).Str("type", string(envelope.Type)).Msg("Failed to write message")
		} else {
			status = types.Delivered
		}
	}

	metrics.MessagesSent.WithLabelValues(string(envelope.Type), status.String()).Inc()
	return status
}

// IsConnected reports whether the client has a live connection
func (r *Registry) IsConnected(clientID string) bool {
	_, ok := r.GetClientConnection(clientID)
	return ok
}

// ConnectedCount returns the number of live connections
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// ConnectedIDs returns the connected client ids in sorted order
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll closes every tracked connection; used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// GetStats returns registry statistics for the health endpoint
func (r *Registry) GetStats() map[string]int {
	return map[string]int{
		"connected_clients": r.ConnectedCount(),
	}
}
