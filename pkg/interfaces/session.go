package interfaces

import (
	"context"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// SessionLifecycle holds the admin-driven operations of the session state machine.
// Every mutating call reports whether its push reached the client.
type SessionLifecycle interface {
	StartSession(ctx context.Context, clientID string, durationMinutes int, freeMode bool, costPerHour float64) (*types.Session, types.DeliveryStatus, error)
	StopSession(ctx context.Context, clientID, reason string) (*types.Session, types.DeliveryStatus, error)
	UpdateSessionTime(ctx context.Context, clientID string, newDurationMinutes int) (*types.Session, types.DeliveryStatus, error)
	UpdateSessionTariff(ctx context.Context, clientID string, freeMode bool, costPerHour float64, reason string) (*types.Session, types.DeliveryStatus, error)
	UnlockClient(ctx context.Context, clientID string) (types.DeliveryStatus, error)
	ShutdownClient(ctx context.Context, clientID string) (types.DeliveryStatus, error)
	DeleteClient(ctx context.Context, clientID string) error
}

// ClientTracker receives connection-level events from the transport.
type ClientTracker interface {
	RegisterClient(ctx context.Context, reg types.Registration) (*types.Client, error)
	SyncClient(ctx context.Context, clientID string) error
	ClientDisconnected(ctx context.Context, clientID string)
	RecordHeartbeat(ctx context.Context, clientID string, reportedRemaining *int, reportedStatus string) error
}

// SessionQueries are the read-only projections used by the admin layer.
type SessionQueries interface {
	GetClientView(ctx context.Context, clientID string) (*types.ClientView, error)
	ListClientViews(ctx context.Context) ([]*types.ClientView, error)
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)
	SessionHistory(ctx context.Context, clientID string, limit int) ([]*types.Session, error)
}

// SessionManager is the single writer of session truth.
type SessionManager interface {
	SessionLifecycle
	ClientTracker
	SessionQueries
}
