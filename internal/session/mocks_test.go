package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

var errMockStore = errors.New("mock store failure")

// mockStore is an in-memory SessionStore
type mockStore struct {
	mu       sync.Mutex
	clients  map[string]*types.Client
	sessions map[string]*types.Session
	nextID   int

	shouldFailCreate   bool
	shouldFailComplete bool
	shouldFailUpdate   bool
	shouldFailStatus   bool

	completeCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		clients:  make(map[string]*types.Client),
		sessions: make(map[string]*types.Session),
	}
}

func (m *mockStore) addClient(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = &types.Client{ID: id, HardwareID: "hw-" + id, Name: id, Status: types.ClientStatusOnline}
}

func (m *mockStore) UpsertClient(ctx context.Context, c *types.Client) (*types.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.clients {
		if existing.HardwareID == c.HardwareID {
			existing.Name = c.Name
			existing.IPAddress = c.IPAddress
			existing.Status = c.Status
			existing.LastSeen = c.LastSeen
			cp := *existing
			return &cp, nil
		}
	}
	m.nextID++
	stored := *c
	stored.ID = fmt.Sprintf("client-%d", m.nextID)
	m.clients[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (m *mockStore) GetClient(ctx context.Context, id string) (*types.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, interfaces.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) ListClients(ctx context.Context) ([]*types.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Client
	for _, c := range m.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateClientStatus(ctx context.Context, id, status string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailStatus {
		return errMockStore
	}
	c, ok := m.clients[id]
	if !ok {
		return interfaces.ErrClientNotFound
	}
	c.Status = status
	c.LastSeen = &lastSeen
	return nil
}

func (m *mockStore) SetClientLock(ctx context.Context, id string, locked bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return interfaces.ErrClientNotFound
	}
	c.Locked = locked
	c.LockReason = reason
	if !locked {
		c.LockReason = ""
	}
	return nil
}

func (m *mockStore) DeleteClient(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return interfaces.ErrClientNotFound
	}
	delete(m.clients, id)
	for sid, s := range m.sessions {
		if s.ClientID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *mockStore) CreateSession(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailCreate {
		return errMockStore
	}
	c, ok := m.clients[s.ClientID]
	if !ok {
		return interfaces.ErrClientNotFound
	}
	for _, existing := range m.sessions {
		if existing.ClientID == s.ClientID && existing.IsActive() {
			return interfaces.ErrActiveSessionExists
		}
	}
	m.sessions[s.ID] = s.Clone()
	c.Status = types.ClientStatusInSession
	c.Locked = false
	c.LockReason = ""
	return nil
}

func (m *mockStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *mockStore) GetActiveSession(ctx context.Context, clientID string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClientID == clientID && s.IsActive() {
			return s.Clone(), nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

func (m *mockStore) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Session
	for _, s := range m.sessions {
		if s.IsActive() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *mockStore) ListClientSessions(ctx context.Context, clientID string, limit int) ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Session
	for _, s := range m.sessions {
		if s.ClientID == clientID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) UpdateSessionTime(ctx context.Context, id string, start time.Time, d int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailUpdate {
		return errMockStore
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return interfaces.ErrSessionNotActive
	}
	s.StartTime = start
	s.DurationMinutes = d
	return nil
}

func (m *mockStore) UpdateSessionTariff(ctx context.Context, id string, free bool, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailUpdate {
		return errMockStore
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsActive() {
		return interfaces.ErrSessionNotActive
	}
	s.FreeMode = free
	s.CostPerHour = rate
	return nil
}

func (m *mockStore) CompleteSession(ctx context.Context, done *types.Session, clientStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	if m.shouldFailComplete {
		return errMockStore
	}
	s, ok := m.sessions[done.ID]
	if !ok || !s.IsActive() {
		return interfaces.ErrSessionNotActive
	}
	m.sessions[done.ID] = done.Clone()
	if c, ok := m.clients[done.ClientID]; ok {
		c.Status = clientStatus
	}
	return nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

// mockNotifier records every envelope sent to connected clients
type mockNotifier struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      map[string][]protocol.Envelope
}

func newMockNotifier(connected ...string) *mockNotifier {
	n := &mockNotifier{connected: make(map[string]bool), sent: make(map[string][]protocol.Envelope)}
	for _, id := range connected {
		n.connected[id] = true
	}
	return n
}

func (n *mockNotifier) Send(clientID string, env protocol.Envelope) types.DeliveryStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected[clientID] {
		return types.ClientOffline
	}
	n.sent[clientID] = append(n.sent[clientID], env)
	return types.Delivered
}

func (n *mockNotifier) IsConnected(clientID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[clientID]
}

func (n *mockNotifier) messages(clientID string) []protocol.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]protocol.Envelope(nil), n.sent[clientID]...)
}

func (n *mockNotifier) last(clientID string) protocol.Envelope {
	msgs := n.messages(clientID)
	if len(msgs) == 0 {
		return protocol.Envelope{}
	}
	return msgs[len(msgs)-1]
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
