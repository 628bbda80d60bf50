package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/metrics"
	"github.com/Neomon11/LibLocker/pkg/interfaces"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Router dispatches inbound client messages to the session manager
// ARCHITECTURAL DISCOVERY: Pure dispatch; the manager owns all state changes
// and the notifier owns delivery
type Router struct {
	sessions    interfaces.SessionManager
	notifier    interfaces.Notifier
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewRouter creates a new message router
func NewRouter(sessions interfaces.SessionManager, notifier interfaces.Notifier, limitPerMinute int, logger zerolog.Logger) *Router {
	return &Router{
		sessions:    sessions,
		notifier:    notifier,
		rateLimiter: NewRateLimiter(limitPerMinute),
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// Route handles one envelope from a registered client. Unknown and
// server-to-client types are ignored rather than rejected.
func (r *Router) Route(ctx context.Context, clientID string, env protocol.Envelope) error {
	label := string(env.Type)
	if !env.Known() {
		label = "unknown"
	}
	metrics.MessagesReceived.WithLabelValues(label).Inc()

	// TECHNICAL DISCOVERY: Rate limiting applied before any store work
	if !r.rateLimiter.Allow(clientID) {
		metrics.RateLimited.Inc()
		return ErrRateLimitExceeded
	}

	switch env.Type {
	case protocol.TypeHeartbeat:
		return r.handleHeartbeat(ctx, clientID, env)

	case protocol.TypeClientSessionStopRequest:
		return r.handleStopRequest(ctx, clientID, env)

	case protocol.TypePing:
		pong, err := protocol.New(protocol.TypePong, nil)
		if err != nil {
			return err
		}
		r.notifier.Send(clientID, pong)
		return nil

	default:
		r.logger.Debug().Str("client_id", clientID).Str("type", string(env.Type)).Msg("Ignoring message")
		return nil
	}
}

func (r *Router) handleHeartbeat(ctx context.Context, clientID string, env protocol.Envelope) error {
	hb, err := protocol.Decode[protocol.Heartbeat](env)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidMessage, err)
	}
	return r.sessions.RecordHeartbeat(ctx, clientID, hb.ReportedRemainingSeconds, hb.Status)
}

// handleStopRequest stops the active session on the client's behalf.
// FUNCTIONAL DISCOVERY: the persisted reason is always client_request; the
// client's own wording is only logged
func (r *Router) handleStopRequest(ctx context.Context, clientID string, env protocol.Envelope) error {
	req, err := protocol.Decode[protocol.ClientSessionStopRequest](env)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidMessage, err)
	}

	session, _, err := r.sessions.StopSession(ctx, clientID, types.StopReasonClientRequest)
	if err != nil {
		if errors.Is(err, types.ErrNoActiveSession) {
			r.logger.Info().Str("client_id", clientID).Msg("Stop requested with no active session")
		}
		return err
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("session_id", session.ID).
		Str("client_reason", req.Reason).
		Msg("Session stopped at client request")
	return nil
}

// Cleanup drops rate limiter state for idle clients
func (r *Router) Cleanup() {
	r.rateLimiter.Cleanup()
}
