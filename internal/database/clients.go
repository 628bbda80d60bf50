package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

const clientColumns = `id, hwid, name, ip_address, mac_address, status, locked, lock_reason, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*types.Client, error) {
	var client types.Client
	var lastSeen sql.NullTime

	err := row.Scan(
		&client.ID,
		&client.HardwareID,
		&client.Name,
		&client.IPAddress,
		&client.MACAddress,
		&client.Status,
		&client.Locked,
		&client.LockReason,
		&lastSeen,
		&client.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		client.LastSeen = &lastSeen.Time
	}
	return &client, nil
}

// UpsertClient inserts a client or refreshes the mutable identity fields of
// the one already registered under the same hardware id. The id is stable
// across reconnects; lock state is left untouched.
func (m *Manager) UpsertClient(ctx context.Context, client *types.Client) (*types.Client, error) {
	var stored *types.Client

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		id := client.ID
		if id == "" {
			id = uuid.NewString()
		}
		now := time.Now().UTC()
		lastSeen := now
		if client.LastSeen != nil {
			lastSeen = client.LastSeen.UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO clients (id, hwid, name, ip_address, mac_address, status, last_seen, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hwid) DO UPDATE SET
				name = excluded.name,
				ip_address = excluded.ip_address,
				mac_address = excluded.mac_address,
				status = excluded.status,
				last_seen = excluded.last_seen
		`, id, client.HardwareID, client.Name, client.IPAddress, client.MACAddress, client.Status, lastSeen, now)
		if err != nil {
			return fmt.Errorf("failed to upsert client: %w", err)
		}

		stored, err = scanClient(tx.QueryRowContext(ctx,
			`SELECT `+clientColumns+` FROM clients WHERE hwid = ?`, client.HardwareID))
		if err != nil {
			return fmt.Errorf("failed to read back client: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return stored, nil
}

// GetClient retrieves a client by id
func (m *Manager) GetClient(ctx context.Context, clientID string) (*types.Client, error) {
	client, err := scanClient(m.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrClientNotFound
		}
		return nil, storeErr(fmt.Errorf("failed to query client: %w", err))
	}
	return client, nil
}

// ListClients returns every known client ordered by name
func (m *Manager) ListClients(ctx context.Context) ([]*types.Client, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to query clients: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var clients []*types.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, storeErr(fmt.Errorf("failed to scan client row: %w", err))
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(fmt.Errorf("error iterating client rows: %w", err))
	}
	return clients, nil
}

// UpdateClientStatus records the stored presence status and last-seen time
func (m *Manager) UpdateClientStatus(ctx context.Context, clientID, status string, lastSeen time.Time) error {
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE clients SET status = ?, last_seen = ? WHERE id = ?`,
			status, lastSeen.UTC(), clientID)
		if err != nil {
			return fmt.Errorf("failed to update client status: %w", err)
		}
		return requireRow(res, interfaces.ErrClientNotFound)
	}))
}

// SetClientLock enters or clears the locked sub-state
func (m *Manager) SetClientLock(ctx context.Context, clientID string, locked bool, reason string) error {
	if !locked {
		reason = ""
	}
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE clients SET locked = ?, lock_reason = ? WHERE id = ?`,
			locked, reason, clientID)
		if err != nil {
			return fmt.Errorf("failed to update client lock: %w", err)
		}
		return requireRow(res, interfaces.ErrClientNotFound)
	}))
}

// DeleteClient removes the client; its sessions go with it via ON DELETE CASCADE
func (m *Manager) DeleteClient(ctx context.Context, clientID string) error {
	return storeErr(m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return requireRow(res, interfaces.ErrClientNotFound)
	}))
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
