package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// mockTracker registers every valid hwid as client-<hwid>
type mockTracker struct {
	mu       sync.Mutex
	registry *Registry
	synced   []string

	shouldFailRegister error
	syncSession        bool
}

func (m *mockTracker) RegisterClient(ctx context.Context, reg types.Registration) (*types.Client, error) {
	if m.shouldFailRegister != nil {
		return nil, m.shouldFailRegister
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &types.Client{ID: "client-" + reg.HardwareID, HardwareID: reg.HardwareID, Name: reg.Name, Status: types.ClientStatusOnline}, nil
}

func (m *mockTracker) SyncClient(ctx context.Context, clientID string) error {
	m.mu.Lock()
	m.synced = append(m.synced, clientID)
	m.mu.Unlock()

	if m.syncSession {
		secs := int64(600)
		env, _ := protocol.New(protocol.TypeSessionSync, protocol.SessionSync{SessionID: "s1", DurationMinutes: 30, RemainingSeconds: &secs})
		m.registry.Send(clientID, env)
	}
	return nil
}

func (m *mockTracker) ClientDisconnected(ctx context.Context, clientID string) {}

func (m *mockTracker) RecordHeartbeat(ctx context.Context, clientID string, reportedRemaining *int, reportedStatus string) error {
	return nil
}

type submitted struct {
	clientID string
	env      protocol.Envelope
}

// mockSink captures submitted envelopes
type mockSink struct {
	ch chan submitted
}

func (m *mockSink) Submit(clientID string, env protocol.Envelope) error {
	m.ch <- submitted{clientID: clientID, env: env}
	return nil
}

type handlerEnv struct {
	handler  *Handler
	registry *Registry
	tracker  *mockTracker
	sink     *mockSink
	url      string
	gone     chan string
}

func setupHandler(t *testing.T) *handlerEnv {
	t.Helper()
	registry := NewRegistry(zerolog.Nop())
	tracker := &mockTracker{registry: registry}
	sink := &mockSink{ch: make(chan submitted, 10)}
	gone := make(chan string, 10)
	registry.SetDisconnectHook(func(ctx context.Context, clientID string) { gone <- clientID })

	config := DefaultConfig()
	config.RegisterTimeout = time.Second
	handler := NewHandler(registry, tracker, sink, config, zerolog.Nop())

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerEnv{
		handler:  handler,
		registry: registry,
		tracker:  tracker,
		sink:     sink,
		url:      "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		gone:     gone,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, mt protocol.MessageType, payload interface{}) {
	t.Helper()
	env, err := protocol.New(mt, payload)
	if err != nil {
		t.Fatalf("protocol.New failed: %v", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	env, err := protocol.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return env
}

func registerClient(t *testing.T, env *handlerEnv, hwid string) *websocket.Conn {
	t.Helper()
	conn := dial(t, env.url)
	send(t, conn, protocol.TypeClientRegister, protocol.ClientRegister{HardwareID: hwid, Name: "PC " + hwid})
	ack := read(t, conn)
	if ack.Type != protocol.TypeAck {
		t.Fatalf("Expected ACK, got %s", ack.Type)
	}
	return conn
}

// Functional Validation Tests
func TestHandler_RegistrationHandshake(t *testing.T) {
	env := setupHandler(t)
	env.tracker.syncSession = true

	conn := dial(t, env.url)
	send(t, conn, protocol.TypeClientRegister, protocol.ClientRegister{HardwareID: "pc-01", Name: "PC 01"})

	ack := read(t, conn)
	payload, _ := protocol.Decode[protocol.Ack](ack)
	if ack.Type != protocol.TypeAck || payload.ClientID != "client-pc-01" {
		t.Fatalf("Expected ACK for client-pc-01, got %s %+v", ack.Type, payload)
	}

	// SESSION_SYNC follows the ACK
	next := read(t, conn)
	if next.Type != protocol.TypeSessionSync {
		t.Errorf("Expected SESSION_SYNC after ACK, got %s", next.Type)
	}

	if !env.registry.IsConnected("client-pc-01") {
		t.Error("Registered client should be connected")
	}
}

func TestHandler_FirstMessageMustRegister(t *testing.T) {
	env := setupHandler(t)

	conn := dial(t, env.url)
	send(t, conn, protocol.TypeHeartbeat, protocol.Heartbeat{})

	reply := read(t, conn)
	payload, _ := protocol.Decode[protocol.Error](reply)
	if reply.Type != protocol.TypeError || payload.Code != "not_registered" {
		t.Errorf("Expected not_registered ERROR, got %s %+v", reply.Type, payload)
	}
	if env.registry.ConnectedCount() != 0 {
		t.Error("Unregistered channel must not be tracked")
	}
}

func TestHandler_InvalidRegistration(t *testing.T) {
	env := setupHandler(t)

	conn := dial(t, env.url)
	send(t, conn, protocol.TypeClientRegister, protocol.ClientRegister{HardwareID: "bad hwid", Name: "x"})

	reply := read(t, conn)
	payload, _ := protocol.Decode[protocol.Error](reply)
	if reply.Type != protocol.TypeError || payload.Code != "invalid_request" {
		t.Errorf("Expected invalid_request ERROR, got %s %+v", reply.Type, payload)
	}
}

func TestHandler_InboundMessagesReachSink(t *testing.T) {
	env := setupHandler(t)
	conn := registerClient(t, env, "pc-02")

	remaining := 300
	send(t, conn, protocol.TypeHeartbeat, protocol.Heartbeat{ReportedRemainingSeconds: &remaining, Status: "in_session"})
	send(t, conn, protocol.TypeClientSessionStopRequest, protocol.ClientSessionStopRequest{Reason: "done"})

	for _, want := range []protocol.MessageType{protocol.TypeHeartbeat, protocol.TypeClientSessionStopRequest} {
		select {
		case got := <-env.sink.ch:
			if got.clientID != "client-pc-02" || got.env.Type != want {
				t.Errorf("Expected %s from client-pc-02, got %s from %s", want, got.env.Type, got.clientID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func TestHandler_MalformedFrameKeepsChannelOpen(t *testing.T) {
	env := setupHandler(t)
	conn := registerClient(t, env, "pc-03")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	reply := read(t, conn)
	payload, _ := protocol.Decode[protocol.Error](reply)
	if reply.Type != protocol.TypeError || payload.Code != "invalid_message" {
		t.Errorf("Expected invalid_message ERROR, got %s %+v", reply.Type, payload)
	}

	send(t, conn, protocol.TypePing, nil)
	select {
	case got := <-env.sink.ch:
		if got.env.Type != protocol.TypePing {
			t.Errorf("Expected PING, got %s", got.env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Channel should stay usable after a malformed frame")
	}
}

func TestHandler_DisconnectRunsHook(t *testing.T) {
	env := setupHandler(t)
	conn := registerClient(t, env, "pc-04")

	_ = conn.Close()

	select {
	case id := <-env.gone:
		if id != "client-pc-04" {
			t.Errorf("Expected hook for client-pc-04, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hook not called")
	}
	if env.registry.IsConnected("client-pc-04") {
		t.Error("Client should be disconnected")
	}
}

func TestHandler_ReconnectReplacesChannel(t *testing.T) {
	env := setupHandler(t)
	first := registerClient(t, env, "pc-05")
	_ = registerClient(t, env, "pc-05")

	// The server closes the replaced channel
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("Replaced channel should be closed by the server")
	}

	select {
	case id := <-env.gone:
		t.Errorf("Replacement must not trigger the disconnect hook, got %s", id)
	case <-time.After(100 * time.Millisecond):
	}
	if !env.registry.IsConnected("client-pc-05") {
		t.Error("Replacement channel should stay connected")
	}
}

func TestHandler_WaitCoversDisconnectCleanup(t *testing.T) {
	env := setupHandler(t)
	_ = registerClient(t, env, "pc-06")

	env.registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.handler.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	// The hook has already run by the time Wait returns
	select {
	case id := <-env.gone:
		if id != "client-pc-06" {
			t.Errorf("Expected hook for client-pc-06, got %s", id)
		}
	default:
		t.Fatal("Wait returned before the disconnect hook ran")
	}

	// New channels are refused once shutdown has begun
	if _, resp, err := websocket.DefaultDialer.Dial(env.url, nil); err == nil {
		t.Error("Expected dial to fail after Wait")
	} else if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after Wait, got %v", resp)
	}
}

func TestHandler_WaitHonorsContext(t *testing.T) {
	env := setupHandler(t)
	_ = registerClient(t, env, "pc-07")

	// channel left open: Wait gives up with the context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := env.handler.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}
