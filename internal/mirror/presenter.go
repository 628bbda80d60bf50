package mirror

import (
	"time"

	"github.com/rs/zerolog"
)

// Presenter renders mirror state. Every method is called from the mirror's
// Run goroutine only, in the order the state changed.
type Presenter interface {
	SessionStarted(s Snapshot)
	CountdownTick(s Snapshot)
	Warn(remaining time.Duration)
	Lock(cause string, s Snapshot)
	Unlock()
	TariffChanged(s Snapshot)
	Shutdown()
}

// LogPresenter renders through zerolog for headless clients
type LogPresenter struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{
		logger: logger.With().Str("component", "presenter").Logger(),
		now:    time.Now,
	}
}

func (p *LogPresenter) SessionStarted(s Snapshot) {
	event := p.logger.Info().
		Str("session_id", s.SessionID).
		Bool("free_mode", s.FreeMode).
		Float64("cost_per_hour", s.CostPerHour)
	if remaining, bounded := s.Remaining(p.now()); bounded {
		event = event.Dur("remaining", remaining.Round(time.Second))
	} else {
		event = event.Bool("unlimited", true)
	}
	event.Msg("Session started")
}

// CountdownTick logs at debug level; it fires every second
func (p *LogPresenter) CountdownTick(s Snapshot) {
	if remaining, bounded := s.Remaining(p.now()); bounded {
		p.logger.Debug().Str("session_id", s.SessionID).Dur("remaining", remaining.Round(time.Second)).Msg("Countdown")
	}
}

func (p *LogPresenter) Warn(remaining time.Duration) {
	p.logger.Warn().Dur("remaining", remaining.Round(time.Second)).Msg("Session is about to end")
}

func (p *LogPresenter) Lock(cause string, s Snapshot) {
	event := p.logger.Info().Str("cause", cause).Str("session_id", s.SessionID)
	if s.Stopped {
		event = event.
			Str("reason", s.StopReason).
			Int("actual_duration", s.ActualDuration).
			Float64("cost", s.Cost)
	}
	event.Msg("Screen locked")
}

func (p *LogPresenter) Unlock() {
	p.logger.Info().Msg("Screen unlocked")
}

func (p *LogPresenter) TariffChanged(s Snapshot) {
	p.logger.Info().Bool("free_mode", s.FreeMode).Float64("cost_per_hour", s.CostPerHour).Msg("Tariff changed")
}

func (p *LogPresenter) Shutdown() {
	p.logger.Warn().Msg("Shutdown requested by server")
}
