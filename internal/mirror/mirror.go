// Package mirror keeps the client's advisory copy of its session.
// ARCHITECTURAL DISCOVERY: Network reads, countdown ticks and local requests
// all hand off through one ordered channel; only Run mutates state or
// touches the presenter.
package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/protocol"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrNoRequester = errors.New("no stop requester configured")
)

// StopRequester forwards a local stop request to the server
type StopRequester interface {
	RequestStop(reason string) error
}

type eventKind int

const (
	eventEnvelope eventKind = iota
	eventTick
	eventReset
	eventStopRequest
)

type event struct {
	kind     eventKind
	envelope protocol.Envelope
	reason   string
}

// Config holds mirror settings
type Config struct {
	WarningMinutes int
	TickInterval   time.Duration
	EventBuffer    int
}

// Option configures a Mirror
type Option func(*Mirror)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// Mirror applies server messages to local session state in receipt order
type Mirror struct {
	presenter Presenter
	requester StopRequester
	config    Config
	now       func() time.Time
	logger    zerolog.Logger
	events    chan event
	snapshot  atomic.Pointer[Snapshot]

	// Owned by Run
	state   Snapshot
	warned  bool
	expired bool
}

// New creates a mirror; call Run to start applying events
func New(presenter Presenter, config Config, logger zerolog.Logger, opts ...Option) *Mirror {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	m := &Mirror{
		presenter: presenter,
		config:    config,
		now:       time.Now,
		logger:    logger.With().Str("component", "mirror").Logger(),
		events:    make(chan event, config.EventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snapshot.Store(&Snapshot{})
	return m
}

// SetStopRequester wires local stop requests to the transport. Call before Run.
func (m *Mirror) SetStopRequester(r StopRequester) {
	m.requester = r
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (m *Mirror) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Deliver queues an inbound envelope. It blocks rather than drop, so
// receipt order is preserved.
func (m *Mirror) Deliver(ctx context.Context, env protocol.Envelope) error {
	return m.enqueue(ctx, event{kind: eventEnvelope, envelope: env})
}

// Reset discards the session view before a new connection; lock state is kept
func (m *Mirror) Reset(ctx context.Context) error {
	return m.enqueue(ctx, event{kind: eventReset})
}

// RequestStop asks the server to end the active session
func (m *Mirror) RequestStop(ctx context.Context, reason string) error {
	return m.enqueue(ctx, event{kind: eventStopRequest, reason: reason})
}

func (m *Mirror) enqueue(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is cancelled
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Ticks are idempotent; skip one rather than block behind messages
				select {
				case m.events <- event{kind: eventTick}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Mirror) handle(ev event) {
	switch ev.kind {
	case eventEnvelope:
		m.apply(ev.envelope)
	case eventTick:
		m.tick()
	case eventReset:
		locked, cause := m.state.Locked, m.state.LockCause
		m.state = Snapshot{Locked: locked, LockCause: cause}
		m.warned, m.expired = false, false
		m.logger.Debug().Bool("locked", locked).Msg("Session view reset")
	case eventStopRequest:
		m.requestStop(ev.reason)
	}
	m.publish()
}

func (m *Mirror) publish() {
	s := m.state
	m.snapshot.Store(&s)
}

// apply handles one server message. Unknown types are ignored.
func (m *Mirror) apply(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypeSessionStart:
		err = m.onSessionStart(env)
	case protocol.TypeSessionStop:
		err = m.onSessionStop(env)
	case protocol.TypeSessionTimeUpdate:
		err = m.onTimeUpdate(env)
	case protocol.TypeSessionTariffUpdate:
		err = m.onTariffUpdate(env)
	case protocol.TypeSessionSync:
		err = m.onSync(env)
	case protocol.TypeUnlock:
		m.state.Locked, m.state.LockCause = false, ""
		m.presenter.Unlock()
	case protocol.TypeShutdown:
		m.presenter.Shutdown()
	case protocol.TypeError:
		msg, decodeErr := protocol.Decode[protocol.Error](env)
		if decodeErr == nil {
			m.logger.Warn().Str("code", msg.Code).Str("message", msg.Message).Msg("Server reported error")
		}
	default:
		m.logger.Debug().Str("type", string(env.Type)).Msg("Ignoring message")
	}

	if err != nil {
		m.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("Failed to apply message")
	}
}

func (m *Mirror) onSessionStart(env protocol.Envelope) error {
	msg, err := protocol.Decode[protocol.SessionStart](env)
	if err != nil {
		return err
	}

	wasLocked := m.state.Locked
	m.state = Snapshot{
		Active:          true,
		SessionID:       msg.SessionID,
		Baseline:        m.now(),
		Duration:        time.Duration(msg.DurationMinutes) * time.Minute,
		DurationMinutes: msg.DurationMinutes,
		Unlimited:       msg.DurationMinutes == 0,
		FreeMode:        msg.FreeMode,
		CostPerHour:     msg.CostPerHour,
	}
	m.warned, m.expired = false, false

	// A new session always clears the lock
	if wasLocked {
		m.presenter.Unlock()
	}
	m.presenter.SessionStarted(m.state)
	return nil
}

// onSessionStop shows the server's figures, never locally computed ones
func (m *Mirror) onSessionStop(env protocol.Envelope) error {
	msg, err := protocol.Decode[protocol.SessionStop](env)
	if err != nil {
		return err
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = m.state.SessionID
	}
	m.state = Snapshot{
		SessionID:      sessionID,
		FreeMode:       m.state.FreeMode,
		CostPerHour:    m.state.CostPerHour,
		Locked:         true,
		LockCause:      CauseSessionStopped,
		Stopped:        true,
		StopReason:     msg.Reason,
		ActualDuration: msg.ActualDuration,
		Cost:           msg.Cost,
	}
	m.warned, m.expired = false, false
	m.presenter.Lock(CauseSessionStopped, m.state)
	return nil
}

// onTimeUpdate restarts the countdown from receipt time
func (m *Mirror) onTimeUpdate(env protocol.Envelope) error {
	msg, err := protocol.Decode[protocol.SessionTimeUpdate](env)
	if err != nil {
		return err
	}
	if !m.state.Active {
		return ErrNoSession
	}

	m.state.Baseline = m.now()
	m.state.Duration = time.Duration(msg.NewDurationMinutes) * time.Minute
	m.state.DurationMinutes = msg.NewDurationMinutes
	m.state.Unlimited = msg.NewDurationMinutes == 0
	m.expired = false
	if remaining, bounded := m.state.Remaining(m.now()); !bounded || remaining > m.warningThreshold() {
		m.warned = false
	}
	m.presenter.CountdownTick(m.state)
	return nil
}

func (m *Mirror) onTariffUpdate(env protocol.Envelope) error {
	msg, err := protocol.Decode[protocol.SessionTariffUpdate](env)
	if err != nil {
		return err
	}
	m.state.FreeMode = msg.FreeMode
	m.state.CostPerHour = msg.CostPerHour
	m.presenter.TariffChanged(m.state)
	return nil
}

// onSync resumes the authoritative countdown after a reconnect
func (m *Mirror) onSync(env protocol.Envelope) error {
	msg, err := protocol.Decode[protocol.SessionSync](env)
	if err != nil {
		return err
	}

	var duration time.Duration
	if msg.RemainingSeconds != nil {
		duration = time.Duration(*msg.RemainingSeconds) * time.Second
	}
	m.state = Snapshot{
		Active:          true,
		SessionID:       msg.SessionID,
		Baseline:        m.now(),
		Duration:        duration,
		DurationMinutes: msg.DurationMinutes,
		Unlimited:       msg.RemainingSeconds == nil,
		FreeMode:        msg.FreeMode,
		CostPerHour:     msg.CostPerHour,
		Locked:          m.state.Locked,
		LockCause:       m.state.LockCause,
	}
	m.warned, m.expired = false, false
	m.presenter.SessionStarted(m.state)
	return nil
}

func (m *Mirror) tick() {
	if !m.state.Active {
		return
	}
	remaining, bounded := m.state.Remaining(m.now())
	if !bounded {
		m.presenter.CountdownTick(m.state)
		return
	}

	if !m.warned && remaining > 0 && remaining <= m.warningThreshold() {
		m.warned = true
		m.presenter.Warn(remaining)
	}

	// Local expiry locks the screen only; the server decides when the session ends
	if remaining == 0 && !m.expired {
		m.expired = true
		m.state.Locked, m.state.LockCause = true, CauseCountdownExpired
		m.presenter.Lock(CauseCountdownExpired, m.state)
		return
	}
	m.presenter.CountdownTick(m.state)
}

// warningThreshold is warning_minutes, or half the duration for shorter sessions
func (m *Mirror) warningThreshold() time.Duration {
	threshold := time.Duration(m.config.WarningMinutes) * time.Minute
	if m.state.Duration > 0 && m.state.Duration < threshold {
		return m.state.Duration / 2
	}
	return threshold
}

func (m *Mirror) requestStop(reason string) {
	if !m.state.Active {
		m.logger.Info().Err(ErrNoSession).Msg("Stop request ignored")
		return
	}
	if m.requester == nil {
		m.logger.Error().Err(ErrNoRequester).Msg("Stop request dropped")
		return
	}
	if err := m.requester.RequestStop(reason); err != nil {
		m.logger.Warn().Err(err).Str("session_id", m.state.SessionID).Msg("Failed to queue stop request")
		return
	}
	m.logger.Info().Str("session_id", m.state.SessionID).Str("reason", reason).Msg("Stop requested")
}
