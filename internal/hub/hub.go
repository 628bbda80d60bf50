package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

const (
	defaultBufferSize      = 1000
	defaultCleanupInterval = time.Minute
)

// Hub processes inbound client messages one at a time, in receipt order
// ARCHITECTURAL DISCOVERY: Single goroutine with one inbound channel; a
// client's heartbeats and stop requests are never reordered
type Hub struct {
	inbound         chan *Inbound
	shutdownChannel chan struct{}
	doneChannel     chan struct{}
	cleanupInterval time.Duration

	router   interfaces.MessageRouter
	notifier interfaces.Notifier
	logger   zerolog.Logger

	running bool
	mu      sync.RWMutex
}

// Inbound wraps an envelope with its sender
type Inbound struct {
	ClientID   string
	Envelope   protocol.Envelope
	ReceivedAt time.Time
}

// NewHub creates a new hub; bufferSize <= 0 uses 1000
func NewHub(router interfaces.MessageRouter, notifier interfaces.Notifier, bufferSize int, logger zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		inbound:         make(chan *Inbound, bufferSize),
		shutdownChannel: make(chan struct{}),
		doneChannel:     make(chan struct{}),
		cleanupInterval: defaultCleanupInterval,
		router:          router,
		notifier:        notifier,
		logger:          logger.With().Str("component", "hub").Logger(),
	}
}

// Start begins processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	go h.run(ctx)

	h.logger.Info().Msg("Message hub started")
	return nil
}

// Stop ends processing and waits for the loop to exit. Messages still
// queued are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.doneChannel
	h.logger.Info().Msg("Message hub stopped")
	return nil
}

// Submit queues an envelope from clientID.
// TECHNICAL DISCOVERY: Non-blocking send so a stuck hub cannot stall read pumps
func (h *Hub) Submit(clientID string, env protocol.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.inbound <- &Inbound{ClientID: clientID, Envelope: env, ReceivedAt: time.Now()}:
		return nil
	default:
		return ErrInboundChannelFull
	}
}

// Pending returns the number of queued messages
func (h *Hub) Pending() int {
	return len(h.inbound)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.doneChannel)

	cleanup := time.NewTicker(h.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case msg := <-h.inbound:
			h.handleMessage(ctx, msg)

		case <-cleanup.C:
			h.router.Cleanup()

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.logger.Info().Msg("Hub context cancelled")
			return
		}
	}
}

// handleMessage routes one message; failures are answered with ERROR and
// never stop the loop
func (h *Hub) handleMessage(ctx context.Context, msg *Inbound) {
	if err := h.router.Route(ctx, msg.ClientID, msg.Envelope); err != nil {
		h.logger.Warn().
			Err(err).
			Str("client_id", msg.ClientID).
			Str("type", string(msg.Envelope.Type)).
			Msg("Message handling failed")
		h.sendErrorToSender(msg.ClientID, err)
		return
	}

	h.logger.Debug().
		Str("client_id", msg.ClientID).
		Str("type", string(msg.Envelope.Type)).
		Dur("queued", time.Since(msg.ReceivedAt)).
		Msg("Message handled")
}

func (h *Hub) sendErrorToSender(clientID string, routeErr error) {
	env, err := protocol.New(protocol.TypeError, protocol.Error{
		Code:    types.ErrorCode(routeErr),
		Message: routeErr.Error(),
	})
	if err != nil {
		return
	}
	h.notifier.Send(clientID, env)
}
