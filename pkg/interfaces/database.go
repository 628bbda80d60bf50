package interfaces

import (
	"context"
	"time"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// SessionStore is the durable record of clients and sessions.
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type SessionStore interface {
	// UpsertClient inserts or refreshes a client keyed by hardware id and
	// returns the stored record with its id
	UpsertClient(ctx context.Context, client *types.Client) (*types.Client, error)

	GetClient(ctx context.Context, clientID string) (*types.Client, error)
	ListClients(ctx context.Context) ([]*types.Client, error)
	UpdateClientStatus(ctx context.Context, clientID, status string, lastSeen time.Time) error
	SetClientLock(ctx context.Context, clientID string, locked bool, reason string) error

	// DeleteClient removes the client and cascades to its sessions
	DeleteClient(ctx context.Context, clientID string) error

	// CreateSession inserts an active session and marks the client in_session
	// in one transaction. Returns ErrActiveSessionExists when one is already active.
	CreateSession(ctx context.Context, session *types.Session) error

	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	GetActiveSession(ctx context.Context, clientID string) (*types.Session, error)
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)
	ListClientSessions(ctx context.Context, clientID string, limit int) ([]*types.Session, error)

	UpdateSessionTime(ctx context.Context, sessionID string, startTime time.Time, durationMinutes int) error
	UpdateSessionTariff(ctx context.Context, sessionID string, freeMode bool, costPerHour float64) error

	// CompleteSession writes the terminal figures of an active session and the
	// client's new status in one transaction. Returns ErrSessionNotActive if the
	// session was already completed, so terminal values are written once.
	CompleteSession(ctx context.Context, session *types.Session, clientStatus string) error

	HealthCheck(ctx context.Context) error
	Close() error
}
