package session

import (
	"context"
	"time"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// DisplayedStatus derives what the admin sees. An active session always
// wins, so status never lags session creation.
func DisplayedStatus(client *types.Client, hasActiveSession, connected bool) string {
	switch {
	case hasActiveSession:
		return types.ClientStatusInSession
	case client.Locked && connected:
		return types.ClientStatusLocked
	case connected:
		return types.ClientStatusOnline
	default:
		return types.ClientStatusOffline
	}
}

// GetClientView returns one client with its derived fields
func (m *Manager) GetClientView(ctx context.Context, clientID string) (*types.ClientView, error) {
	client, err := m.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return m.buildView(ctx, client, m.now()), nil
}

// ListClientViews returns every client with its derived fields
func (m *Manager) ListClientViews(ctx context.Context) ([]*types.ClientView, error) {
	clients, err := m.store.ListClients(ctx)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	now := m.now()
	views := make([]*types.ClientView, 0, len(clients))
	for _, client := range clients {
		views = append(views, m.buildView(ctx, client, now))
	}
	return views, nil
}

func (m *Manager) buildView(ctx context.Context, client *types.Client, now time.Time) *types.ClientView {
	active := m.cached(client.ID)
	connected := m.notifier.IsConnected(client.ID)

	view := &types.ClientView{
		Client:          client,
		DisplayedStatus: DisplayedStatus(client, active != nil, connected),
		Connected:       connected,
		ActiveSession:   active,
	}
	if active != nil {
		view.Unlimited = active.Unlimited()
		if remaining, bounded := active.Remaining(now); bounded {
			secs := int64(remaining / time.Second)
			view.RemainingSeconds = &secs
		}
	}

	if m.presence != nil {
		if record, err := m.presence.Get(ctx, client.ID); err == nil {
			view.ReportedRemainingSeconds = record.ReportedRemainingSeconds
			received := record.ReceivedAt
			view.LastHeartbeat = &received
		}
	}
	return view
}

// ListActiveSessions returns the active sessions, most recent first
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.ActiveSessions(), nil
}

// SessionHistory returns a client's sessions, most recent first
func (m *Manager) SessionHistory(ctx context.Context, clientID string, limit int) ([]*types.Session, error) {
	if _, err := m.store.GetClient(ctx, clientID); err != nil {
		return nil, translateStoreErr(err)
	}
	sessions, err := m.store.ListClientSessions(ctx, clientID, limit)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return sessions, nil
}
