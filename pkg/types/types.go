package types

import (
	"time"
)

// Client status values as stored and displayed.
const (
	ClientStatusOffline   = "offline"
	ClientStatusOnline    = "online"
	ClientStatusInSession = "in_session"
	ClientStatusLocked    = "locked"
)

// Session status values. A session is written as completed exactly once.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Lock reasons recorded with the locked sub-state.
const (
	LockReasonSessionExpired = "session_expired"
	LockReasonReported       = "client_reported"
)

// Stop reasons carried in SESSION_STOP and persisted with the session.
const (
	StopReasonManual        = "manual"
	StopReasonClientRequest = "client_request"
	StopReasonExpired       = "expired"
)

// Client is the identity record for one locker PC, keyed by hardware id.
// FUNCTIONAL DISCOVERY: Locked is orthogonal to Status; it survives
// session stop and reconnects and is cleared only by unlock or a new session.
type Client struct {
	ID         string     `json:"id" db:"id"`
	HardwareID string     `json:"hwid" db:"hwid"`
	Name       string     `json:"name" db:"name"`
	IPAddress  string     `json:"ip_address" db:"ip_address"`
	MACAddress string     `json:"mac_address" db:"mac_address"`
	Status     string     `json:"status" db:"status"`
	Locked     bool       `json:"locked" db:"locked"`
	LockReason string     `json:"lock_reason,omitempty" db:"lock_reason"`
	LastSeen   *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Session is one billed usage interval for exactly one client.
// Remaining time is never stored; see Remaining.
type Session struct {
	ID              string     `json:"id" db:"id"`
	ClientID        string     `json:"client_id" db:"client_id"`
	StartTime       time.Time  `json:"start_time" db:"start_time"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	FreeMode        bool       `json:"free_mode" db:"free_mode"`
	CostPerHour     float64    `json:"cost_per_hour" db:"cost_per_hour"`
	Status          string     `json:"status" db:"status"`
	ActualDuration  int        `json:"actual_duration" db:"actual_duration"`
	Cost            float64    `json:"cost" db:"cost"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	StopReason      string     `json:"stop_reason,omitempty" db:"stop_reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// IsActive reports whether the session has not been completed yet.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Unlimited reports whether the session has no fixed duration.
func (s *Session) Unlimited() bool {
	return s.DurationMinutes == 0
}

// Remaining derives start_time + duration - now, clamped at zero.
// The boolean is false for unlimited sessions, whose remaining time is unbounded.
func (s *Session) Remaining(now time.Time) (time.Duration, bool) {
	if s.Unlimited() {
		return 0, false
	}
	end := s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Clone returns a copy safe to mutate before persisting.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// Registration is the identity a client announces when it connects.
type Registration struct {
	HardwareID string
	Name       string
	IPAddress  string
	MACAddress string
}

// DeliveryStatus is the outcome of pushing a message to a client.
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	ClientOffline
)

func (d DeliveryStatus) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case ClientOffline:
		return "client_offline"
	default:
		return "unknown"
	}
}

// Err maps ClientOffline to ErrClientOffline and Delivered to nil.
func (d DeliveryStatus) Err() error {
	if d == ClientOffline {
		return ErrClientOffline
	}
	return nil
}

// ClientView is the admin-facing projection of a client with derived fields.
type ClientView struct {
	Client                   *Client    `json:"client"`
	DisplayedStatus          string     `json:"displayed_status"`
	Connected                bool       `json:"connected"`
	ActiveSession            *Session   `json:"active_session,omitempty"`
	Unlimited                bool       `json:"unlimited"`
	RemainingSeconds         *int64     `json:"remaining_seconds,omitempty"`
	ReportedRemainingSeconds *int       `json:"reported_remaining_seconds,omitempty"`
	LastHeartbeat            *time.Time `json:"last_heartbeat,omitempty"`
}
