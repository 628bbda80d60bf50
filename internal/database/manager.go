package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/metrics"
	dbconfig "github.com/Neomon11/LibLocker/pkg/database"
	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Manager implements the SessionStore interface on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	done         chan struct{} // closed when writeLoop has exited
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
// Migrations are applied separately (see Migrate).
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "store").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations from the configured source
func (m *Manager) Migrate() ([]string, error) {
	fsys, err := m.config.Migrations()
	if err != nil {
		return nil, err
	}
	return dbconfig.NewMigrationManager(m.db, fsys).ApplyMigrations()
}

// ValidateSchema checks tables, columns and indexes against what the store expects
func (m *Manager) ValidateSchema() error {
	return dbconfig.NewSchemaValidator(m.db).Validate()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case op := <-m.writeChannel:
			m.runWrite(op)

		case <-m.shutdown:
			// Writes already queued still run so their callers get an answer
			for {
				select {
				case op := <-m.writeChannel:
					m.runWrite(op)
				default:
					m.logger.Debug().Msg("Database write loop shutting down")
					return
				}
			}
		}
	}
}

func (m *Manager) runWrite(op writeOperation) {
	start := time.Now()
	err := op.operation(m.db)
	// FUNCTIONAL DISCOVERY: Only a busy database is worth one retry;
	// constraint violations are answers, not failures
	if err != nil && isBusy(err) {
		m.logger.Warn().Err(err).Dur("retry_in", m.config.WriteRetryDelay).Msg("Database busy, retrying write")
		time.Sleep(m.config.WriteRetryDelay)
		err = op.operation(m.db)
		if err != nil {
			m.logger.Error().Err(err).Msg("Database write failed after retry")
		}
	}
	metrics.StoreWriteDuration.Observe(time.Since(start).Seconds())
	metrics.StoreWrites.WithLabelValues(writeResult(err)).Inc()
	op.result <- err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", types.ErrStoreFailure)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("%w: write operation timeout", types.ErrStoreFailure)
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", types.ErrStoreFailure)
	}

	// Once queued the operation runs to completion; waiting on ctx here
	// would report failure for a write that may still commit
	select {
	case err := <-result:
		return err
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return fmt.Errorf("%w: database manager is shutting down", types.ErrStoreFailure)
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func writeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrActiveSessionExists),
		errors.Is(err, interfaces.ErrSessionNotActive),
		errors.Is(err, interfaces.ErrClientNotFound),
		errors.Is(err, interfaces.ErrSessionNotFound):
		return "rejected"
	default:
		return "error"
	}
}

// storeErr marks unexpected database errors as StoreFailure while keeping
// the sentinels the store returns on purpose
func storeErr(err error) error {
	switch {
	case err == nil,
		errors.Is(err, types.ErrStoreFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		writeResult(err) == "rejected":
		return err
	default:
		return fmt.Errorf("%w: %w", types.ErrStoreFailure, err)
	}
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations and validation
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
