package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/billing"
	"github.com/Neomon11/LibLocker/internal/metrics"
	"github.com/Neomon11/LibLocker/internal/presence"
	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Manager is the single writer of session and client status.
// ARCHITECTURAL DISCOVERY: Operations on one client are serialized by a
// per-client mutex; different clients proceed independently. The active
// cache is only swapped after the store write succeeds.
type Manager struct {
	store    interfaces.SessionStore
	notifier interfaces.Notifier
	presence presence.Store
	policy   billing.Policy
	now      func() time.Time
	logger   zerolog.Logger

	locksMu     sync.Mutex
	clientLocks map[string]*sync.Mutex

	mu            sync.RWMutex
	active        map[string]*types.Session // clientID -> active session
	expiryHandled map[string]bool           // sessionID -> expiry already acted on
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPresence stores heartbeat telemetry
func WithPresence(store presence.Store) Option {
	return func(m *Manager) { m.presence = store }
}

// WithPolicy overrides the billing policy
func WithPolicy(policy billing.Policy) Option {
	return func(m *Manager) { m.policy = policy }
}

// NewManager creates a new session manager
func NewManager(store interfaces.SessionStore, notifier interfaces.Notifier, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		notifier:      notifier,
		policy:        billing.SingleTariffAtStop{},
		now:           time.Now,
		logger:        logger.With().Str("component", "session").Logger(),
		clientLocks:   make(map[string]*sync.Mutex),
		active:        make(map[string]*types.Session),
		expiryHandled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadActiveSessions loads all active sessions from the store into memory
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return translateStoreErr(err)
	}

	m.mu.Lock()
	for _, s := range sessions {
		m.active[s.ClientID] = s
	}
	count := len(m.active)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info().Int("count", len(sessions)).Msg("Loaded active sessions")
	return nil
}

func (m *Manager) lockClient(clientID string) func() {
	m.locksMu.Lock()
	l, ok := m.clientLocks[clientID]
	if !ok {
		l = &sync.Mutex{}
		m.clientLocks[clientID] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) cached(clientID string) *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.active[clientID]; ok {
		return s.Clone()
	}
	return nil
}

func (m *Manager) setCached(s *types.Session) {
	m.mu.Lock()
	m.active[s.ClientID] = s
	count := len(m.active)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

func (m *Manager) dropCached(clientID string) {
	m.mu.Lock()
	if s, ok := m.active[clientID]; ok {
		delete(m.expiryHandled, s.ID)
	}
	delete(m.active, clientID)
	count := len(m.active)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

// activeSession returns the cached active session, falling back to the store
// for a session the cache has not seen. An unregistered client is
// ErrClientUnknown, a registered one without a session ErrNoActiveSession.
func (m *Manager) activeSession(ctx context.Context, clientID string) (*types.Session, error) {
	if s := m.cached(clientID); s != nil {
		return s, nil
	}
	s, err := m.store.GetActiveSession(ctx, clientID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		if _, clientErr := m.store.GetClient(ctx, clientID); clientErr != nil {
			return nil, translateStoreErr(clientErr)
		}
	}
	if err != nil {
		return nil, translateStoreErr(err)
	}
	m.setCached(s.Clone())
	return s, nil
}

func (m *Manager) push(clientID string, t protocol.MessageType, payload interface{}) types.DeliveryStatus {
	env, err := protocol.New(t, payload)
	if err != nil {
		m.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to encode message")
		return types.ClientOffline
	}
	status := m.notifier.Send(clientID, env)
	if status == types.ClientOffline {
		m.logger.Warn().Str("client_id", clientID).Str("type", string(t)).Msg("Client offline, message not delivered")
	}
	return status
}

// StartSession creates an active session starting now, marks the client
// in_session, clears its lock and pushes SESSION_START
func (m *Manager) StartSession(ctx context.Context, clientID string, durationMinutes int, freeMode bool, costPerHour float64) (*types.Session, types.DeliveryStatus, error) {
	now := m.now()
	session := &types.Session{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		StartTime:       now,
		DurationMinutes: durationMinutes,
		FreeMode:        freeMode,
		CostPerHour:     costPerHour,
		Status:          types.SessionStatusActive,
		CreatedAt:       now,
	}
	if err := session.Validate(); err != nil {
		return nil, types.ClientOffline, err
	}

	unlock := m.lockClient(clientID)
	defer unlock()

	if _, err := m.store.GetClient(ctx, clientID); err != nil {
		return nil, types.ClientOffline, translateStoreErr(err)
	}
	if m.cached(clientID) != nil {
		return nil, types.ClientOffline, types.ErrClientBusy
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, types.ClientOffline, translateStoreErr(err)
	}
	m.setCached(session.Clone())
	metrics.SessionsStarted.Inc()

	m.logger.Info().
		Str("client_id", clientID).
		Str("session_id", session.ID).
		Int("duration_minutes", durationMinutes).
		Bool("free_mode", freeMode).
		Float64("cost_per_hour", costPerHour).
		Msg("Session started")

	delivery := m.push(clientID, protocol.TypeSessionStart, protocol.SessionStart{
		SessionID:       session.ID,
		DurationMinutes: session.DurationMinutes,
		IsUnlimited:     session.Unlimited(),
		FreeMode:        session.FreeMode,
		CostPerHour:     session.CostPerHour,
	})
	return session, delivery, nil
}

// StopSession computes the terminal figures, persists them, then pushes
// SESSION_STOP carrying exactly what was stored
func (m *Manager) StopSession(ctx context.Context, clientID, reason string) (*types.Session, types.DeliveryStatus, error) {
	if reason == "" {
		reason = types.StopReasonManual
	}

	unlock := m.lockClient(clientID)
	defer unlock()

	session, err := m.activeSession(ctx, clientID)
	if err != nil {
		if errors.Is(err, types.ErrNoActiveSession) {
			m.logger.Warn().Str("client_id", clientID).Str("reason", reason).Msg("Stop requested without an active session")
		}
		return nil, types.ClientOffline, err
	}

	now := m.now()
	charge := m.policy.Charge(now.Sub(session.StartTime), billing.Tariff{
		FreeMode:    session.FreeMode,
		CostPerHour: session.CostPerHour,
	})

	done := session.Clone()
	done.Status = types.SessionStatusCompleted
	done.ActualDuration = charge.ActualMinutes
	done.Cost = charge.Cost
	done.EndTime = &now
	done.StopReason = reason

	clientStatus := types.ClientStatusOffline
	if m.notifier.IsConnected(clientID) {
		clientStatus = types.ClientStatusOnline
	}

	if err := m.store.CompleteSession(ctx, done, clientStatus); err != nil {
		err = translateStoreErr(err)
		if errors.Is(err, types.ErrNoActiveSession) {
			// completed elsewhere; the cache was stale
			m.dropCached(clientID)
		}
		return nil, types.ClientOffline, err
	}
	m.dropCached(clientID)

	metrics.SessionsStopped.WithLabelValues(reason).Inc()
	metrics.SessionMinutesBilled.Add(float64(done.ActualDuration))
	metrics.SessionRevenue.Add(done.Cost)

	m.logger.Info().
		Str("client_id", clientID).
		Str("session_id", done.ID).
		Str("reason", reason).
		Int("actual_duration", done.ActualDuration).
		Float64("cost", done.Cost).
		Msg("Session stopped")

	delivery := m.push(clientID, protocol.TypeSessionStop, protocol.SessionStop{
		SessionID:      done.ID,
		Reason:         reason,
		ActualDuration: done.ActualDuration,
		Cost:           done.Cost,
	})
	return done, delivery, nil
}

// UpdateSessionTime sets start_time to now together with the new duration,
// so remaining time is exactly the new duration from this instant.
// A duration of 0 makes the session unlimited.
func (m *Manager) UpdateSessionTime(ctx context.Context, clientID string, newDurationMinutes int) (*types.Session, types.DeliveryStatus, error) {
	if err := types.ValidateDuration(newDurationMinutes); err != nil {
		return nil, types.ClientOffline, err
	}

	unlock := m.lockClient(clientID)
	defer unlock()

	session, err := m.activeSession(ctx, clientID)
	if err != nil {
		return nil, types.ClientOffline, err
	}

	now := m.now()
	if err := m.store.UpdateSessionTime(ctx, session.ID, now, newDurationMinutes); err != nil {
		return nil, types.ClientOffline, translateStoreErr(err)
	}

	updated := session.Clone()
	updated.StartTime = now
	updated.DurationMinutes = newDurationMinutes
	m.setCached(updated.Clone())

	m.mu.Lock()
	delete(m.expiryHandled, updated.ID)
	m.mu.Unlock()

	m.logger.Info().
		Str("client_id", clientID).
		Str("session_id", updated.ID).
		Int("new_duration_minutes", newDurationMinutes).
		Msg("Session time updated")

	delivery := m.push(clientID, protocol.TypeSessionTimeUpdate, protocol.SessionTimeUpdate{
		NewDurationMinutes: newDurationMinutes,
		Reason:             "admin",
	})
	return updated, delivery, nil
}

// UpdateSessionTariff replaces free_mode and cost_per_hour without touching
// start_time or duration
func (m *Manager) UpdateSessionTariff(ctx context.Context, clientID string, freeMode bool, costPerHour float64, reason string) (*types.Session, types.DeliveryStatus, error) {
	if err := types.ValidateTariff(costPerHour); err != nil {
		return nil, types.ClientOffline, err
	}

	unlock := m.lockClient(clientID)
	defer unlock()

	session, err := m.activeSession(ctx, clientID)
	if err != nil {
		return nil, types.ClientOffline, err
	}

	if err := m.store.UpdateSessionTariff(ctx, session.ID, freeMode, costPerHour); err != nil {
		return nil, types.ClientOffline, translateStoreErr(err)
	}

	updated := session.Clone()
	updated.FreeMode = freeMode
	updated.CostPerHour = costPerHour
	m.setCached(updated.Clone())

	m.logger.Info().
		Str("client_id", clientID).
		Str("session_id", updated.ID).
		Bool("free_mode", freeMode).
		Float64("cost_per_hour", costPerHour).
		Str("reason", reason).
		Msg("Session tariff updated")

	delivery := m.push(clientID, protocol.TypeSessionTariffUpdate, protocol.SessionTariffUpdate{
		FreeMode:    freeMode,
		CostPerHour: costPerHour,
		Reason:      reason,
	})
	return updated, delivery, nil
}

// UnlockClient clears the locked sub-state whatever its cause and pushes
// UNLOCK. Session rows are not touched.
func (m *Manager) UnlockClient(ctx context.Context, clientID string) (types.DeliveryStatus, error) {
	unlock := m.lockClient(clientID)
	defer unlock()

	if err := m.store.SetClientLock(ctx, clientID, false, ""); err != nil {
		return types.ClientOffline, translateStoreErr(err)
	}
	m.logger.Info().Str("client_id", clientID).Msg("Client unlocked")
	return m.push(clientID, protocol.TypeUnlock, protocol.Unlock{}), nil
}

// ShutdownClient asks the client to power off
func (m *Manager) ShutdownClient(ctx context.Context, clientID string) (types.DeliveryStatus, error) {
	if _, err := m.store.GetClient(ctx, clientID); err != nil {
		return types.ClientOffline, translateStoreErr(err)
	}
	m.logger.Info().Str("client_id", clientID).Msg("Shutdown requested")
	return m.push(clientID, protocol.TypeShutdown, protocol.Shutdown{Reason: "admin"}), nil
}

// DeleteClient removes the client and its session history
func (m *Manager) DeleteClient(ctx context.Context, clientID string) error {
	unlock := m.lockClient(clientID)
	defer unlock()

	if err := m.store.DeleteClient(ctx, clientID); err != nil {
		return translateStoreErr(err)
	}
	m.dropCached(clientID)
	m.forgetPresence(ctx, clientID)

	m.locksMu.Lock()
	delete(m.clientLocks, clientID)
	m.locksMu.Unlock()

	m.logger.Info().Str("client_id", clientID).Msg("Client deleted")
	return nil
}

// RegisterClient upserts the client by hardware id and marks it online
// (in_session if a session survived the disconnect)
func (m *Manager) RegisterClient(ctx context.Context, reg types.Registration) (*types.Client, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	client, err := m.store.UpsertClient(ctx, &types.Client{
		HardwareID: reg.HardwareID,
		Name:       reg.Name,
		IPAddress:  reg.IPAddress,
		MACAddress: reg.MACAddress,
		Status:     types.ClientStatusOnline,
		LastSeen:   &now,
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	// the upsert wrote online; a start that committed meanwhile is cached
	// by the time this lock is ours
	unlock := m.lockClient(client.ID)
	defer unlock()

	if m.cached(client.ID) != nil {
		if err := m.store.UpdateClientStatus(ctx, client.ID, types.ClientStatusInSession, now); err != nil {
			return nil, translateStoreErr(err)
		}
		client.Status = types.ClientStatusInSession
	}

	m.logger.Info().
		Str("client_id", client.ID).
		Str("hwid", client.HardwareID).
		Str("name", client.Name).
		Bool("locked", client.Locked).
		Msg("Client registered")
	return client, nil
}

// SyncClient pushes SESSION_SYNC when the client has an active session, so a
// freshly reset mirror resumes the authoritative countdown
func (m *Manager) SyncClient(ctx context.Context, clientID string) error {
	unlock := m.lockClient(clientID)
	defer unlock()

	session, err := m.activeSession(ctx, clientID)
	if errors.Is(err, types.ErrNoActiveSession) {
		return nil
	}
	if err != nil {
		return err
	}

	msg := protocol.SessionSync{
		SessionID:       session.ID,
		DurationMinutes: session.DurationMinutes,
		FreeMode:        session.FreeMode,
		CostPerHour:     session.CostPerHour,
	}
	if remaining, bounded := session.Remaining(m.now()); bounded {
		secs := int64(remaining / time.Second)
		msg.RemainingSeconds = &secs
	}
	m.push(clientID, protocol.TypeSessionSync, msg)
	return nil
}

// ClientDisconnected marks the client offline. Active sessions keep running.
func (m *Manager) ClientDisconnected(ctx context.Context, clientID string) {
	unlock := m.lockClient(clientID)
	defer unlock()

	// a replacement channel registered before this cleanup ran
	if m.notifier.IsConnected(clientID) {
		m.logger.Debug().Str("client_id", clientID).Msg("Stale disconnect ignored, client reconnected")
		return
	}

	if err := m.store.UpdateClientStatus(ctx, clientID, types.ClientStatusOffline, m.now()); err != nil {
		m.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to mark client offline")
		return
	}
	m.forgetPresence(ctx, clientID)
	m.logger.Info().Str("client_id", clientID).Bool("session_active", m.cached(clientID) != nil).Msg("Client disconnected")
}

// RecordHeartbeat refreshes liveness. The reported remaining time is stored
// as telemetry only; a reported "locked" status enters the locked sub-state.
func (m *Manager) RecordHeartbeat(ctx context.Context, clientID string, reportedRemaining *int, reportedStatus string) error {
	unlock := m.lockClient(clientID)
	defer unlock()

	now := m.now()
	status := types.ClientStatusOnline
	if m.cached(clientID) != nil {
		status = types.ClientStatusInSession
	}
	if err := m.store.UpdateClientStatus(ctx, clientID, status, now); err != nil {
		return translateStoreErr(err)
	}
	metrics.HeartbeatsReceived.Inc()

	if err := m.reconcileReportedLock(ctx, clientID, reportedStatus); err != nil {
		return err
	}

	if m.presence != nil {
		err := m.presence.Touch(ctx, presence.Record{
			ClientID:                 clientID,
			ReportedRemainingSeconds: reportedRemaining,
			Status:                   reportedStatus,
			ReceivedAt:               now,
		})
		if err != nil {
			metrics.PresenceErrors.WithLabelValues("touch").Inc()
			m.logger.Warn().Err(err).Str("client_id", clientID).Msg("Failed to record presence")
		}
	}
	return nil
}

// reconcileReportedLock follows the client's own lock report. Only a lock
// that came from a report is cleared by a later report; expiry locks wait
// for unlock or a new session. A stale "locked" that lands after an unlock
// is undone by the next heartbeat.
func (m *Manager) reconcileReportedLock(ctx context.Context, clientID, reportedStatus string) error {
	if reportedStatus == "" {
		return nil
	}
	client, err := m.store.GetClient(ctx, clientID)
	if err != nil {
		return translateStoreErr(err)
	}

	switch {
	case reportedStatus == types.ClientStatusLocked && !client.Locked:
		if err := m.store.SetClientLock(ctx, clientID, true, types.LockReasonReported); err != nil {
			return translateStoreErr(err)
		}
		m.logger.Info().Str("client_id", clientID).Msg("Client reported locked")
	case reportedStatus != types.ClientStatusLocked && client.Locked && client.LockReason == types.LockReasonReported:
		if err := m.store.SetClientLock(ctx, clientID, false, ""); err != nil {
			return translateStoreErr(err)
		}
		m.logger.Info().Str("client_id", clientID).Str("reported_status", reportedStatus).Msg("Client reports unlocked, reported lock cleared")
	}
	return nil
}

func (m *Manager) forgetPresence(ctx context.Context, clientID string) {
	if m.presence == nil {
		return
	}
	if err := m.presence.Remove(ctx, clientID); err != nil {
		metrics.PresenceErrors.WithLabelValues("remove").Inc()
		m.logger.Warn().Err(err).Str("client_id", clientID).Msg("Failed to remove presence")
	}
}

// ActiveSessions returns copies of the cached active sessions
func (m *Manager) ActiveSessions() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions
}

// lockExpired enters the locked sub-state once per expired session
func (m *Manager) lockExpired(ctx context.Context, clientID, sessionID string) error {
	unlock := m.lockClient(clientID)
	defer unlock()

	m.mu.RLock()
	current, ok := m.active[clientID]
	handled := m.expiryHandled[sessionID]
	m.mu.RUnlock()
	if !ok || current.ID != sessionID || handled {
		return nil
	}
	if remaining, bounded := current.Remaining(m.now()); !bounded || remaining > 0 {
		return nil
	}

	if err := m.store.SetClientLock(ctx, clientID, true, types.LockReasonSessionExpired); err != nil {
		return translateStoreErr(err)
	}
	m.mu.Lock()
	m.expiryHandled[sessionID] = true
	m.mu.Unlock()

	m.logger.Info().Str("client_id", clientID).Str("session_id", sessionID).Msg("Session expired, client locked")
	return nil
}
