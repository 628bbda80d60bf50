package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// FUNCTIONAL DISCOVERY: Locker clients connect from the library LAN with no
// browser origin to check
var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Config holds the channel timing for server-side connections
type Config struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	RegisterTimeout time.Duration
}

// DefaultConfig returns the timings used when none are configured
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		BufferSize:      100,
		RegisterTimeout: 10 * time.Second,
	}
}

// Handler accepts client channels on /ws.
// ARCHITECTURAL DISCOVERY: Multi-stage setup (upgrade -> CLIENT_REGISTER ->
// registry -> ACK -> sync -> read pump) so nothing is routed for a client the
// server has not identified.
type Handler struct {
	registry *Registry
	tracker  interfaces.ClientTracker
	sink     interfaces.MessageSink
	config   Config
	logger   zerolog.Logger

	// wg counts connections from upgrade until their cleanup has run
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *Registry, tracker interfaces.ClientTracker, sink interfaces.MessageSink, config Config, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		tracker:  tracker,
		sink:     sink,
		config:   config,
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
}

// HandleWebSocket upgrades the request and runs the registration handshake
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			h.wg.Done()
		}
	}()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.config.BufferSize, h.config.WriteTimeout)

	if err := h.register(r.Context(), conn, remoteIP(r)); err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Client registration failed")
		h.replyError(conn, err)
		// give the writer a moment to flush the ERROR before the socket closes
		time.AfterFunc(100*time.Millisecond, func() { _ = conn.Close() })
		return
	}

	handedOff = true
	go func() {
		defer h.wg.Done()
		h.handleConnection(conn)
	}()
}

func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Wait refuses new channels and blocks until every open channel has run its
// disconnect cleanup, or ctx is done. Close the channels first.
func (h *Handler) Wait(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register waits for CLIENT_REGISTER and binds the connection to the client
func (h *Handler) register(ctx context.Context, conn *Connection, ip string) error {
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.RegisterTimeout)); err != nil {
		return err
	}

	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read registration: %w", err)
	}

	env, err := protocol.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidMessage, err)
	}
	if env.Type != protocol.TypeClientRegister {
		return types.ErrNotRegistered
	}

	msg, err := protocol.Decode[protocol.ClientRegister](env)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidMessage, err)
	}
	if msg.IPAddress == "" {
		msg.IPAddress = ip
	}

	client, err := h.tracker.RegisterClient(ctx, types.Registration{
		HardwareID: msg.HardwareID,
		Name:       msg.Name,
		IPAddress:  msg.IPAddress,
		MACAddress: msg.MACAddress,
	})
	if err != nil {
		return err
	}

	if err := conn.SetCredentials(client.ID, client.HardwareID); err != nil {
		return err
	}
	if err := h.registry.RegisterConnection(conn); err != nil {
		return err
	}

	ack, err := protocol.New(protocol.TypeAck, protocol.Ack{ClientID: client.ID, Status: client.Status})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(ack); err != nil {
		h.registry.UnregisterConnection(conn)
		return err
	}

	// Queued after ACK on the same writer, so the client sees them in order
	if err := h.tracker.SyncClient(ctx, client.ID); err != nil {
		h.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Failed to sync active session")
	}

	h.logger.Info().
		Str("client_id", client.ID).
		Str("hwid", client.HardwareID).
		Str("ip_address", msg.IPAddress).
		Msg("Client connected")
	return nil
}

// handleConnection runs keepalive and the read pump until the channel drops
func (h *Handler) handleConnection(conn *Connection) {
	clientID := conn.GetClientID()
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	// TECHNICAL DISCOVERY: read deadline is pushed forward by every pong, so a
	// silent peer is dropped after ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", clientID).Msg("WebSocket error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// any frame counts as liveness
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))

		env, err := protocol.Unmarshal(data)
		if err != nil {
			h.logger.Debug().Err(err).Str("client_id", clientID).Msg("Malformed message")
			h.replyError(conn, fmt.Errorf("%w: %w", types.ErrInvalidMessage, err))
			continue
		}

		if err := h.sink.Submit(clientID, env); err != nil {
			h.logger.Warn().Err(err).Str("client_id", clientID).Str("type", string(env.Type)).Msg("Failed to queue message")
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) replyError(conn *Connection, err error) {
	env, encErr := protocol.New(protocol.TypeError, protocol.Error{
		Code:    types.ErrorCode(err),
		Message: err.Error(),
	})
	if encErr != nil {
		return
	}
	if writeErr := conn.WriteJSON(env); writeErr != nil && !errors.Is(writeErr, ErrConnectionClosed) {
		h.logger.Debug().Err(writeErr).Msg("Failed to send error reply")
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
