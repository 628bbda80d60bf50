package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every structural check and stops at the first failure
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"clients":           "Client identity and presence",
		"sessions":          "Session history and billing",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	clientColumns := map[string]string{
		"id":          "TEXT",
		"hwid":        "TEXT",
		"name":        "TEXT",
		"ip_address":  "TEXT",
		"mac_address": "TEXT",
		"status":      "TEXT",
		"locked":      "INTEGER",
		"lock_reason": "TEXT",
		"last_seen":   "DATETIME",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("clients", clientColumns); err != nil {
		return fmt.Errorf("clients table structure invalid: %w", err)
	}

	sessionColumns := map[string]string{
		"id":               "TEXT",
		"client_id":        "TEXT",
		"start_time":       "DATETIME",
		"duration_minutes": "INTEGER",
		"free_mode":        "INTEGER",
		"cost_per_hour":    "REAL",
		"status":           "TEXT",
		"actual_duration":  "INTEGER",
		"cost":             "REAL",
		"end_time":         "DATETIME",
		"stop_reason":      "TEXT",
		"created_at":       "DATETIME",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all required indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_one_active":   "One active session per client",
		"idx_sessions_client_start": "Per-client history",
		"idx_sessions_status":       "Active session lookups",
		"idx_clients_status":        "Client status lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that integrity rules are enforced by the database
// ARCHITECTURAL DISCOVERY: Probes run inside a transaction that is always
// rolled back, so validation never leaves rows behind
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Foreign key: sessions.client_id -> clients.id
	_, err = tx.Exec(`
		INSERT INTO sessions (id, client_id, start_time)
		VALUES ('probe-orphan', 'probe-missing-client', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: sessions.client_id")
	}

	if _, err = tx.Exec(`
		INSERT INTO clients (id, hwid, name) VALUES ('probe-client', 'probe-hwid', 'probe')
	`); err != nil {
		return fmt.Errorf("failed to create probe client: %w", err)
	}
	if _, err = tx.Exec(`
		INSERT INTO sessions (id, client_id, start_time)
		VALUES ('probe-1', 'probe-client', CURRENT_TIMESTAMP)
	`); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}

	// Partial unique index: a second active session for the same client must fail
	_, err = tx.Exec(`
		INSERT INTO sessions (id, client_id, start_time)
		VALUES ('probe-2', 'probe-client', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("unique constraint not enforced: one active session per client")
	}

	_, err = tx.Exec(`UPDATE sessions SET status = 'paused' WHERE id = 'probe-1'`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: session status")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
