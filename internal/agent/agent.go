// Package agent keeps a client PC connected to the server: it dials,
// registers, heartbeats and redials forever until shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/mirror"
	"github.com/Neomon11/LibLocker/pkg/protocol"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// Mirror is the part of the session mirror the agent drives
type Mirror interface {
	Deliver(ctx context.Context, env protocol.Envelope) error
	Reset(ctx context.Context) error
	Snapshot() mirror.Snapshot
}

// WaitFunc pauses for d or until ctx ends
type WaitFunc func(ctx context.Context, d time.Duration) error

// Config holds agent timing
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
}

// Option configures an Agent
type Option func(*Agent)

// WithWait replaces the reconnect pause, for tests
func WithWait(wait WaitFunc) Option {
	return func(a *Agent) { a.wait = wait }
}

// WithClock replaces time.Now for heartbeat values
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// Agent owns the client side of the channel
type Agent struct {
	dialer       Dialer
	mirror       Mirror
	registration types.Registration
	config       Config
	wait         WaitFunc
	now          func() time.Time
	logger       zerolog.Logger

	stopRequests chan string
	connected    atomic.Bool
	clientID     atomic.Value // string
}

// New creates an agent; call Run to connect
func New(dialer Dialer, m Mirror, reg types.Registration, config Config, logger zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		dialer:       dialer,
		mirror:       m,
		registration: reg,
		config:       config,
		wait:         sleep,
		now:          time.Now,
		logger:       logger.With().Str("component", "agent").Str("hwid", reg.HardwareID).Logger(),
		stopRequests: make(chan string, 8),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.clientID.Store("")
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a channel is currently up
func (a *Agent) Connected() bool {
	return a.connected.Load()
}

// ClientID returns the id assigned by the server's last ACK
func (a *Agent) ClientID() string {
	return a.clientID.Load().(string)
}

// RequestStop queues CLIENT_SESSION_STOP_REQUEST for the current channel
func (a *Agent) RequestStop(reason string) error {
	if !a.Connected() {
		return ErrNotConnected
	}
	select {
	case a.stopRequests <- reason:
		return nil
	default:
		return ErrStopQueueFull
	}
}

// Run connects and reconnects until ctx is cancelled. A lost channel is
// redialed at once; each failed dial waits exactly ReconnectInterval.
// FUNCTIONAL DISCOVERY: No backoff and no retry limit; the server may
// come back at any moment and the PC has nothing else to do
func (a *Agent) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		ch, err := a.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", a.config.ReconnectInterval).Msg("Failed to connect")
			if err := a.wait(ctx, a.config.ReconnectInterval); err != nil {
				return err
			}
			continue
		}

		a.logger.Info().Int("attempt", attempt).Msg("Connected to server")
		attempt = 0

		err = a.runChannel(ctx, ch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn().Err(err).Msg("Connection lost, reconnecting")
	}
}

// runChannel serves one connection until it fails
func (a *Agent) runChannel(ctx context.Context, ch Channel) error {
	cycleCtx, cancel := context.WithCancel(ctx)
	readerDone := make(chan struct{})
	readErr := make(chan error, 1)

	defer func() {
		a.connected.Store(false)
		cancel()
		ch.Close()
		<-readerDone
		a.drainStopRequests()
	}()

	// The server resyncs an active session after registration
	if err := a.mirror.Reset(cycleCtx); err != nil {
		close(readerDone)
		return err
	}

	register, err := protocol.New(protocol.TypeClientRegister, protocol.ClientRegister{
		HardwareID: a.registration.HardwareID,
		Name:       a.registration.Name,
		IPAddress:  a.registration.IPAddress,
		MACAddress: a.registration.MACAddress,
	})
	if err != nil {
		close(readerDone)
		return err
	}
	if err := ch.Send(register); err != nil {
		close(readerDone)
		return fmt.Errorf("%w: register: %v", types.ErrChannelLost, err)
	}

	go a.readLoop(cycleCtx, ch, readErr, readerDone)
	a.connected.Store(true)

	a.sendHeartbeat(ch)
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			a.sendHeartbeat(ch)
		case reason := <-a.stopRequests:
			a.sendStopRequest(ch, reason)
		}
	}
}

// readLoop forwards every envelope to the mirror in receipt order
func (a *Agent) readLoop(ctx context.Context, ch Channel, errCh chan<- error, done chan<- struct{}) {
	defer close(done)
	for {
		env, err := ch.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedEnvelope) || errors.Is(err, protocol.ErrMissingType) {
				a.logger.Warn().Err(err).Msg("Dropping malformed frame")
				continue
			}
			errCh <- fmt.Errorf("%w: %v", types.ErrChannelLost, err)
			return
		}

		if env.Type == protocol.TypeAck {
			if ack, err := protocol.Decode[protocol.Ack](env); err == nil {
				a.clientID.Store(ack.ClientID)
				a.logger.Info().Str("client_id", ack.ClientID).Msg("Registered")
			}
		}

		if err := a.mirror.Deliver(ctx, env); err != nil {
			return
		}
	}
}

// sendHeartbeat failures are logged; only a read failure ends the channel
func (a *Agent) sendHeartbeat(ch Channel) {
	snap := a.mirror.Snapshot()
	env, err := protocol.New(protocol.TypeHeartbeat, protocol.Heartbeat{
		ReportedRemainingSeconds: snap.RemainingSeconds(a.now()),
		Status:                   snap.Status(),
	})
	if err == nil {
		err = ch.Send(env)
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send heartbeat")
	}
}

func (a *Agent) sendStopRequest(ch Channel, reason string) {
	env, err := protocol.New(protocol.TypeClientSessionStopRequest, protocol.ClientSessionStopRequest{Reason: reason})
	if err == nil {
		err = ch.Send(env)
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("reason", reason).Msg("Failed to send stop request")
		return
	}
	a.logger.Info().Str("reason", reason).Msg("Stop request sent")
}

// drainStopRequests drops requests queued for a channel that is gone
func (a *Agent) drainStopRequests() {
	for {
		select {
		case reason := <-a.stopRequests:
			a.logger.Warn().Str("reason", reason).Msg("Stop request dropped, channel lost")
		default:
			return
		}
	}
}
