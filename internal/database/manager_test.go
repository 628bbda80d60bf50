package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/database"
	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) (*Manager, func()) {
	t.Helper()
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteRetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return manager, func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	}
}

func registerTestClient(t *testing.T, m *Manager, hwid string) *types.Client {
	t.Helper()
	client, err := m.UpsertClient(context.Background(), &types.Client{
		HardwareID: hwid,
		Name:       "PC " + hwid,
		Status:     types.ClientStatusOnline,
	})
	if err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}
	return client
}

func newTestSession(clientID string, minutes int) *types.Session {
	return &types.Session{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		StartTime:       time.Now().UTC().Truncate(time.Second),
		DurationMinutes: minutes,
		CostPerHour:     100,
		Status:          types.SessionStatusActive,
	}
}

// Architectural Validation Tests

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionStore = (*Manager)(nil)
}

// Functional Validation Tests - Clients

func TestManager_UpsertClientKeepsIDAcrossReconnects(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := registerTestClient(t, manager, "hw-1")
	if first.ID == "" {
		t.Fatal("Expected server-assigned id")
	}
	if err := manager.SetClientLock(ctx, first.ID, true, types.LockReasonSessionExpired); err != nil {
		t.Fatalf("SetClientLock failed: %v", err)
	}

	second, err := manager.UpsertClient(ctx, &types.Client{
		HardwareID: "hw-1",
		Name:       "Renamed",
		IPAddress:  "10.0.0.5",
		Status:     types.ClientStatusOnline,
	})
	if err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Expected stable id %s, got %s", first.ID, second.ID)
	}
	if second.Name != "Renamed" || second.IPAddress != "10.0.0.5" {
		t.Errorf("Identity fields not refreshed: %+v", second)
	}
	if !second.Locked || second.LockReason != types.LockReasonSessionExpired {
		t.Errorf("Lock state must survive re-registration, got locked=%v reason=%q", second.Locked, second.LockReason)
	}
	if second.LastSeen == nil {
		t.Error("Expected last_seen to be set")
	}
}

func TestManager_ClientNotFound(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := manager.GetClient(ctx, "missing"); !errors.Is(err, interfaces.ErrClientNotFound) {
		t.Errorf("GetClient: expected ErrClientNotFound, got %v", err)
	}
	if err := manager.UpdateClientStatus(ctx, "missing", types.ClientStatusOffline, time.Now()); !errors.Is(err, interfaces.ErrClientNotFound) {
		t.Errorf("UpdateClientStatus: expected ErrClientNotFound, got %v", err)
	}
	if err := manager.SetClientLock(ctx, "missing", true, "x"); !errors.Is(err, interfaces.ErrClientNotFound) {
		t.Errorf("SetClientLock: expected ErrClientNotFound, got %v", err)
	}
	if err := manager.DeleteClient(ctx, "missing"); !errors.Is(err, interfaces.ErrClientNotFound) {
		t.Errorf("DeleteClient: expected ErrClientNotFound, got %v", err)
	}
	if err := manager.CreateSession(ctx, newTestSession("missing", 10)); !errors.Is(err, interfaces.ErrClientNotFound) {
		t.Errorf("CreateSession: expected ErrClientNotFound, got %v", err)
	}
}

func TestManager_ClearLockDropsReason(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	_ = manager.SetClientLock(ctx, client.ID, true, types.LockReasonReported)
	if err := manager.SetClientLock(ctx, client.ID, false, "ignored"); err != nil {
		t.Fatalf("SetClientLock failed: %v", err)
	}

	got, _ := manager.GetClient(ctx, client.ID)
	if got.Locked || got.LockReason != "" {
		t.Errorf("Expected cleared lock, got locked=%v reason=%q", got.Locked, got.LockReason)
	}
}

func TestManager_ListClientsOrderedByName(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	registerTestClient(t, manager, "b")
	registerTestClient(t, manager, "a")

	clients, err := manager.ListClients(context.Background())
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 2 || clients[0].HardwareID != "a" {
		t.Errorf("Expected clients ordered by name, got %+v", clients)
	}
}

// Functional Validation Tests - Sessions

func TestManager_CreateSessionBehavior(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	_ = manager.SetClientLock(ctx, client.ID, true, types.LockReasonSessionExpired)

	session := newTestSession(client.ID, 60)
	if err := manager.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	stored, err := manager.GetActiveSession(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetActiveSession failed: %v", err)
	}
	if stored.ID != session.ID || stored.DurationMinutes != 60 || stored.CostPerHour != 100 {
		t.Errorf("Stored session mismatch: %+v", stored)
	}
	if !stored.StartTime.Equal(session.StartTime) {
		t.Errorf("Start time mismatch: %v vs %v", stored.StartTime, session.StartTime)
	}

	updated, _ := manager.GetClient(ctx, client.ID)
	if updated.Status != types.ClientStatusInSession {
		t.Errorf("Expected client in_session, got %s", updated.Status)
	}
	if updated.Locked {
		t.Error("Starting a session must clear the lock")
	}
}

func TestManager_OneActiveSessionPerClient(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	if err := manager.CreateSession(ctx, newTestSession(client.ID, 30)); err != nil {
		t.Fatalf("First CreateSession failed: %v", err)
	}

	start := time.Now()
	err := manager.CreateSession(ctx, newTestSession(client.ID, 30))
	if !errors.Is(err, interfaces.ErrActiveSessionExists) {
		t.Fatalf("Expected ErrActiveSessionExists, got %v", err)
	}
	// Constraint violations are not retried
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Rejected insert took %v, expected no retry delay", elapsed)
	}
}

func TestManager_GetSessionNotFound(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := manager.GetSession(context.Background(), "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := manager.GetActiveSession(context.Background(), "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_UpdateSessionTimeAndTariff(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	session := newTestSession(client.ID, 60)
	_ = manager.CreateSession(ctx, session)

	newStart := session.StartTime.Add(10 * time.Minute)
	if err := manager.UpdateSessionTime(ctx, session.ID, newStart, 30); err != nil {
		t.Fatalf("UpdateSessionTime failed: %v", err)
	}
	if err := manager.UpdateSessionTariff(ctx, session.ID, true, 0); err != nil {
		t.Fatalf("UpdateSessionTariff failed: %v", err)
	}

	stored, _ := manager.GetSession(ctx, session.ID)
	if !stored.StartTime.Equal(newStart) || stored.DurationMinutes != 30 {
		t.Errorf("Time update not persisted: %+v", stored)
	}
	if !stored.FreeMode || stored.CostPerHour != 0 {
		t.Errorf("Tariff update not persisted: %+v", stored)
	}
}

func TestManager_CompleteSessionIsSingleShot(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	session := newTestSession(client.ID, 60)
	_ = manager.CreateSession(ctx, session)

	end := session.StartTime.Add(30 * time.Minute)
	done := session.Clone()
	done.EndTime = &end
	done.ActualDuration = 30
	done.Cost = 50
	done.StopReason = types.StopReasonManual

	if err := manager.CompleteSession(ctx, done, types.ClientStatusOnline); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	// A second terminal write must not overwrite the figures
	again := done.Clone()
	again.ActualDuration = 99
	again.Cost = 999
	if err := manager.CompleteSession(ctx, again, types.ClientStatusOnline); !errors.Is(err, interfaces.ErrSessionNotActive) {
		t.Errorf("Expected ErrSessionNotActive on second completion, got %v", err)
	}

	stored, _ := manager.GetSession(ctx, session.ID)
	if stored.Status != types.SessionStatusCompleted || stored.ActualDuration != 30 || stored.Cost != 50 {
		t.Errorf("Terminal figures mismatch: %+v", stored)
	}
	if stored.EndTime == nil || !stored.EndTime.Equal(end) {
		t.Errorf("Expected end time %v, got %v", end, stored.EndTime)
	}
	if stored.StopReason != types.StopReasonManual {
		t.Errorf("Expected stop reason manual, got %q", stored.StopReason)
	}

	updatedClient, _ := manager.GetClient(ctx, client.ID)
	if updatedClient.Status != types.ClientStatusOnline {
		t.Errorf("Expected client online after stop, got %s", updatedClient.Status)
	}

	if _, err := manager.GetActiveSession(ctx, client.ID); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected no active session after completion, got %v", err)
	}
	if err := manager.UpdateSessionTime(ctx, session.ID, time.Now(), 10); !errors.Is(err, interfaces.ErrSessionNotActive) {
		t.Errorf("Expected ErrSessionNotActive updating completed session, got %v", err)
	}
}

func TestManager_ListActiveAndHistory(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c1 := registerTestClient(t, manager, "hw-1")
	c2 := registerTestClient(t, manager, "hw-2")

	// Three completed sessions for c1 in chronological order, then one active
	base := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		s := newTestSession(c1.ID, 10)
		s.StartTime = base.Add(time.Duration(i) * time.Hour)
		if err := manager.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession %d failed: %v", i, err)
		}
		end := s.StartTime.Add(10 * time.Minute)
		s.EndTime = &end
		s.ActualDuration = 10
		if err := manager.CompleteSession(ctx, s, types.ClientStatusOnline); err != nil {
			t.Fatalf("CompleteSession %d failed: %v", i, err)
		}
	}
	_ = manager.CreateSession(ctx, newTestSession(c1.ID, 0))
	_ = manager.CreateSession(ctx, newTestSession(c2.ID, 15))

	active, err := manager.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active sessions, got %d", len(active))
	}

	history, err := manager.ListClientSessions(ctx, c1.ID, 2)
	if err != nil {
		t.Fatalf("ListClientSessions failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected limit of 2, got %d", len(history))
	}
	if !history[0].IsActive() {
		t.Error("Most recent session should come first")
	}

	all, _ := manager.ListClientSessions(ctx, c1.ID, 0)
	if len(all) != 4 {
		t.Errorf("Expected 4 sessions with default limit, got %d", len(all))
	}
}

func TestManager_DeleteClientCascades(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")
	session := newTestSession(client.ID, 10)
	_ = manager.CreateSession(ctx, session)

	if err := manager.DeleteClient(ctx, client.ID); err != nil {
		t.Fatalf("DeleteClient failed: %v", err)
	}
	if _, err := manager.GetSession(ctx, session.ID); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("Expected sessions to cascade, got %v", err)
	}
}

// Technical Validation Tests - Single writer

func TestManager_SingleWriterPattern(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := manager.UpsertClient(ctx, &types.Client{
				HardwareID: fmt.Sprintf("hw-%d", i),
				Name:       fmt.Sprintf("PC %d", i),
				Status:     types.ClientStatusOnline,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}

	clients, _ := manager.ListClients(ctx)
	if len(clients) != writers {
		t.Errorf("Expected %d clients, got %d", writers, len(clients))
	}
}

func TestManager_ConcurrentCreateOnlyOneWins(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	client := registerTestClient(t, manager, "hw-1")

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- manager.CreateSession(ctx, newTestSession(client.ID, 30))
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, interfaces.ErrActiveSessionExists):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one active session, got %d", wins)
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager, cleanup := setupTestDB(t)
	defer cleanup()

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager, _ := setupTestDB(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	_, err := manager.UpsertClient(context.Background(), &types.Client{HardwareID: "hw", Name: "pc", Status: types.ClientStatusOnline})
	if !errors.Is(err, types.ErrStoreFailure) {
		t.Errorf("Expected ErrStoreFailure after close, got %v", err)
	}
}
