package types

import "errors"

// Core error taxonomy shared by the server, the admin layer and the client agent.
// None of these is process-fatal.
var (
	ErrClientUnknown   = errors.New("client is not registered")
	ErrClientBusy      = errors.New("client already has an active session")
	ErrClientOffline   = errors.New("client is offline")
	ErrStoreFailure    = errors.New("session store failure")
	ErrChannelLost     = errors.New("channel to server lost")
	ErrNoActiveSession = errors.New("client has no active session")
)

// Validation errors
var (
	ErrInvalidHardwareID = errors.New("hwid must be 1-128 characters of letters, digits, '_', '.', ':' or '-'")
	ErrInvalidClientName = errors.New("client name must be 1-100 characters")
	ErrInvalidDuration   = errors.New("duration must be zero (unlimited) or a positive number of minutes")
	ErrInvalidTariff     = errors.New("cost per hour must be a finite non-negative number")
	ErrInvalidClientID   = errors.New("client id is required")
)

// Inbound message errors
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrNotRegistered  = errors.New("CLIENT_REGISTER must be the first message")
)

// ErrorCode names err for ERROR envelopes and admin API error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrClientUnknown):
		return "client_unknown"
	case errors.Is(err, ErrClientBusy):
		return "client_busy"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrClientOffline):
		return "client_offline"
	case errors.Is(err, ErrInvalidHardwareID), errors.Is(err, ErrInvalidClientName),
		errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidTariff),
		errors.Is(err, ErrInvalidClientID):
		return "invalid_request"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "internal_error"
	}
}
