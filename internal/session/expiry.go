package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// ExpiryWatcher periodically finds limited sessions whose remaining time
// has run out. By default it locks the client and leaves the session
// running; with autoStop it stops the session with reason "expired".
type ExpiryWatcher struct {
	manager  *Manager
	interval time.Duration
	autoStop bool
	logger   zerolog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewExpiryWatcher creates a watcher; call Start to run it
func NewExpiryWatcher(manager *Manager, interval time.Duration, autoStop bool, logger zerolog.Logger) *ExpiryWatcher {
	return &ExpiryWatcher{
		manager:  manager,
		interval: interval,
		autoStop: autoStop,
		logger:   logger.With().Str("component", "expiry").Logger(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the check loop in a goroutine
func (w *ExpiryWatcher) Start() {
	w.started = true
	ticker := time.NewTicker(w.interval)
	go func() {
		defer close(w.doneChan)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Check(context.Background())
			case <-w.stopChan:
				return
			}
		}
	}()
	w.logger.Info().Dur("interval", w.interval).Bool("auto_stop", w.autoStop).Msg("Expiry watcher started")
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (w *ExpiryWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.started {
			<-w.doneChan
		}
	})
}

// Check runs one pass over the active sessions
func (w *ExpiryWatcher) Check(ctx context.Context) {
	now := w.manager.now()
	for _, s := range w.manager.ActiveSessions() {
		remaining, bounded := s.Remaining(now)
		if !bounded || remaining > 0 {
			continue
		}

		var err error
		if w.autoStop {
			_, _, err = w.manager.StopSession(ctx, s.ClientID, types.StopReasonExpired)
			if errors.Is(err, types.ErrNoActiveSession) {
				err = nil
			}
		} else {
			err = w.manager.lockExpired(ctx, s.ClientID, s.ID)
		}
		if err != nil {
			w.logger.Error().Err(err).Str("client_id", s.ClientID).Str("session_id", s.ID).Msg("Failed to handle expired session")
		}
	}
}
