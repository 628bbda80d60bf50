package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// mockConnection records writes without a socket
type mockConnection struct {
	mu            sync.Mutex
	clientID      string
	hardwareID    string
	authenticated bool
	closed        bool
	written       []interface{}

	shouldFailWrite bool
}

func newMockConnection(clientID string) *mockConnection {
	return &mockConnection{clientID: clientID, hardwareID: "hw-" + clientID, authenticated: true}
}

func (m *mockConnection) WriteJSON(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailWrite || m.closed {
		return ErrConnectionClosed
	}
	m.written = append(m.written, v)
	return nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConnection) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

func (m *mockConnection) GetClientID() string   { return m.clientID }
func (m *mockConnection) GetHardwareID() string { return m.hardwareID }
func (m *mockConnection) IsAuthenticated() bool { return m.authenticated }
func (m *mockConnection) SetCredentials(clientID, hardwareID string) error {
	m.clientID, m.hardwareID, m.authenticated = clientID, hardwareID, true
	return nil
}

func testEnvelope(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.New(protocol.TypeUnlock, nil)
	if err != nil {
		t.Fatalf("protocol.New failed: %v", err)
	}
	return env
}

// Architectural Validation Tests
func TestRegistry_ImplementsNotifier(t *testing.T) {
	var _ interfaces.Notifier = NewRegistry(zerolog.Nop())
}

// Functional Validation Tests
func TestRegistry_RegisterConnectionValidation(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	if err := registry.RegisterConnection(nil); !errors.Is(err, ErrNilConnection) {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	conn := newMockConnection("c1")
	conn.authenticated = false
	if err := registry.RegisterConnection(conn); !errors.Is(err, ErrConnectionNotAuthenticated) {
		t.Errorf("Expected ErrConnectionNotAuthenticated, got %v", err)
	}
	if registry.ConnectedCount() != 0 {
		t.Error("Rejected connection must not be tracked")
	}
}

func TestRegistry_SendDeliveryStatus(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	conn := newMockConnection("c1")
	_ = registry.RegisterConnection(conn)

	if got := registry.Send("c1", testEnvelope(t)); got != types.Delivered {
		t.Errorf("Expected delivered, got %s", got)
	}
	if conn.writes() != 1 {
		t.Errorf("Expected 1 write, got %d", conn.writes())
	}

	if got := registry.Send("nobody", testEnvelope(t)); got != types.ClientOffline {
		t.Errorf("Expected client_offline for unknown client, got %s", got)
	}

	conn.shouldFailWrite = true
	if got := registry.Send("c1", testEnvelope(t)); got != types.ClientOffline {
		t.Errorf("Expected client_offline when the write fails, got %s", got)
	}
}

func TestRegistry_ReplaceClosesPreviousConnection(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	first := newMockConnection("c1")
	second := newMockConnection("c1")

	_ = registry.RegisterConnection(first)
	_ = registry.RegisterConnection(second)

	current, _ := registry.GetClientConnection("c1")
	if current != second {
		t.Error("Newest connection must be current")
	}

	deadline := time.Now().Add(time.Second)
	for !first.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !first.isClosed() {
		t.Error("Replaced connection should be closed")
	}
	if registry.ConnectedCount() != 1 {
		t.Errorf("Expected 1 connection, got %d", registry.ConnectedCount())
	}
}

func TestRegistry_StaleUnregisterKeepsSuccessor(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	var hookCalls []string
	registry.SetDisconnectHook(func(ctx context.Context, clientID string) {
		hookCalls = append(hookCalls, clientID)
	})

	first := newMockConnection("c1")
	second := newMockConnection("c1")
	_ = registry.RegisterConnection(first)
	_ = registry.RegisterConnection(second)

	registry.UnregisterConnection(first)
	if !registry.IsConnected("c1") {
		t.Error("Stale unregister must not remove the successor")
	}
	if len(hookCalls) != 0 {
		t.Errorf("Disconnect hook must not run for a replaced connection, got %v", hookCalls)
	}

	registry.UnregisterConnection(second)
	if registry.IsConnected("c1") {
		t.Error("Current connection should be removed")
	}
	if len(hookCalls) != 1 || hookCalls[0] != "c1" {
		t.Errorf("Expected one hook call for c1, got %v", hookCalls)
	}

	// Idempotent
	registry.UnregisterConnection(second)
	registry.UnregisterConnection(nil)
	if len(hookCalls) != 1 {
		t.Errorf("Repeated unregister must not rerun the hook, got %v", hookCalls)
	}
}

func TestRegistry_ConnectedIDsSorted(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	for _, id := range []string{"c3", "c1", "c2"} {
		_ = registry.RegisterConnection(newMockConnection(id))
	}

	ids := registry.ConnectedIDs()
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
	}
	if registry.GetStats()["connected_clients"] != 3 {
		t.Errorf("Unexpected stats: %v", registry.GetStats())
	}

	registry.CloseAll()
}

// Technical Validation Tests
func TestRegistry_ConcurrentOperations(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	const clients = 50

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", n)
			conn := newMockConnection(id)
			_ = registry.RegisterConnection(conn)
			registry.Send(id, testEnvelope(t))
			_ = registry.IsConnected(id)
			if n%2 == 0 {
				registry.UnregisterConnection(conn)
			}
		}(i)
	}
	wg.Wait()

	if got := registry.ConnectedCount(); got != clients/2 {
		t.Errorf("Expected %d connections, got %d", clients/2, got)
	}
}
