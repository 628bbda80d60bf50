package mirror

import (
	"time"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// Lock causes shown by the presenter
const (
	CauseCountdownExpired = "countdown_expired"
	CauseSessionStopped   = "session_stopped"
)

// Snapshot is the client's read-only view of its session. Remaining time is
// derived from Baseline and Duration on every read.
type Snapshot struct {
	Active          bool
	SessionID       string
	Baseline        time.Time
	Duration        time.Duration
	DurationMinutes int
	Unlimited       bool
	FreeMode        bool
	CostPerHour     float64

	Locked    bool
	LockCause string

	// Final figures from the last SESSION_STOP, exactly as the server sent them
	Stopped        bool
	StopReason     string
	ActualDuration int
	Cost           float64
}

// Remaining returns the time left and whether the session is bounded
func (s Snapshot) Remaining(now time.Time) (time.Duration, bool) {
	if !s.Active || s.Unlimited {
		return 0, false
	}
	remaining := s.Baseline.Add(s.Duration).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// RemainingSeconds is the heartbeat value: nil without a bounded session
func (s Snapshot) RemainingSeconds(now time.Time) *int {
	remaining, bounded := s.Remaining(now)
	if !bounded {
		return nil
	}
	secs := int(remaining / time.Second)
	return &secs
}

// Status is reported with every heartbeat. Only a local expiry lock is
// reported as locked; the summary screen after a stop is an idle PC.
func (s Snapshot) Status() string {
	switch {
	case s.Locked && s.LockCause == CauseCountdownExpired:
		return types.ClientStatusLocked
	case s.Active:
		return types.ClientStatusInSession
	default:
		return types.ClientStatusOnline
	}
}
