package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

const sessionColumns = `id, client_id, start_time, duration_minutes, free_mode, cost_per_hour,
	status, actual_duration, cost, end_time, stop_reason, created_at`

// defaultHistoryLimit bounds ListClientSessions when no limit is given
const defaultHistoryLimit = 50

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var endTime sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.ClientID,
		&session.StartTime,
		&session.DurationMinutes,
		&session.FreeMode,
		&session.CostPerHour,
		&session.Status,
		&session.ActualDuration,
		&session.Cost,
		&endTime,
		&session.StopReason,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	return &session, nil
}

// CreateSession inserts an active session, marks the client in_session and
// clears its lock in one transaction
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE clients SET status = ?, locked = 0, lock_reason = '' WHERE id = ?`,
			types.ClientStatusInSession, session.ClientID)
		if err != nil {
			return fmt.Errorf("failed to update client: %w", err)
		}
		if err := requireRow(res, interfaces.ErrClientNotFound); err != nil {
			return err
		}

		createdAt := session.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, client_id, start_time, duration_minutes, free_mode, cost_per_hour, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.ClientID,
			session.StartTime.UTC(),
			session.DurationMinutes,
			session.FreeMode,
			session.CostPerHour,
			types.SessionStatusActive,
			createdAt.UTC(),
		)
		if err != nil {
			// TECHNICAL DISCOVERY: the partial unique index is the durable
			// guarantee of one active session per client
			if isUniqueViolation(err) {
				return interfaces.ErrActiveSessionExists
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}
		return nil
	}))
}

// GetSession retrieves a session by id
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := scanSession(m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, storeErr(fmt.Errorf("failed to query session: %w", err))
	}
	return session, nil
}

// GetActiveSession returns the client's active session or ErrSessionNotFound
func (m *Manager) GetActiveSession(ctx context.Context, clientID string) (*types.Session, error) {
	session, err := scanSession(m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE client_id = ? AND status = 'active'`, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, storeErr(fmt.Errorf("failed to query active session: %w", err))
	}
	return session, nil
}

// ListActiveSessions returns all active sessions, most recent first
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY start_time DESC`)
}

// ListClientSessions returns a client's sessions, most recent first
func (m *Manager) ListClientSessions(ctx context.Context, clientID string, limit int) ([]*types.Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE client_id = ? ORDER BY start_time DESC, created_at DESC LIMIT ?`,
		clientID, limit)
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...interface{}) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to query sessions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storeErr(fmt.Errorf("failed to scan session row: %w", err))
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(fmt.Errorf("error iterating session rows: %w", err))
	}
	return sessions, nil
}

// UpdateSessionTime moves the countdown baseline of an active session
func (m *Manager) UpdateSessionTime(ctx context.Context, sessionID string, startTime time.Time, durationMinutes int) error {
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET start_time = ?, duration_minutes = ? WHERE id = ? AND status = 'active'`,
			startTime.UTC(), durationMinutes, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session time: %w", err)
		}
		return requireRow(res, interfaces.ErrSessionNotActive)
	}))
}

// UpdateSessionTariff replaces the tariff of an active session
func (m *Manager) UpdateSessionTariff(ctx context.Context, sessionID string, freeMode bool, costPerHour float64) error {
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET free_mode = ?, cost_per_hour = ? WHERE id = ? AND status = 'active'`,
			freeMode, costPerHour, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session tariff: %w", err)
		}
		return requireRow(res, interfaces.ErrSessionNotActive)
	}))
}

// CompleteSession writes the terminal figures and the client's new status
// FUNCTIONAL DISCOVERY: the status guard in the WHERE clause makes the
// terminal write single-shot even if two stops race past the caller's lock
func (m *Manager) CompleteSession(ctx context.Context, session *types.Session, clientStatus string) error {
	if session.EndTime == nil {
		return fmt.Errorf("%w: completed session needs an end time", types.ErrStoreFailure)
	}

	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = 'completed', actual_duration = ?, cost = ?, end_time = ?, stop_reason = ?
			WHERE id = ? AND status = 'active'
		`, session.ActualDuration, session.Cost, session.EndTime.UTC(), session.StopReason, session.ID)
		if err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		if err := requireRow(res, interfaces.ErrSessionNotActive); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET status = ? WHERE id = ?`, clientStatus, session.ClientID); err != nil {
			return fmt.Errorf("failed to update client status: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session completion: %w", err)
		}
		return nil
	}))
}
