package interfaces

import (
	"context"

	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Notifier pushes protocol messages to connected clients.
// FUNCTIONAL DISCOVERY: ClientOffline is a result, not an error; callers
// decide whether an undelivered push matters
type Notifier interface {
	Send(clientID string, envelope protocol.Envelope) types.DeliveryStatus
	IsConnected(clientID string) bool
}

// MessageRouter handles one inbound envelope from a registered client
type MessageRouter interface {
	Route(ctx context.Context, clientID string, envelope protocol.Envelope) error

	// Cleanup drops per-client state that has gone stale
	Cleanup()
}

// MessageSink accepts inbound envelopes for processing in receipt order
type MessageSink interface {
	Submit(clientID string, envelope protocol.Envelope) error
}
