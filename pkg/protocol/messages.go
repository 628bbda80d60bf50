// Package protocol defines the message catalog exchanged between the
// LibLocker server and its clients, and the envelope codec for it.
package protocol

// MessageType names a message in the catalog.
type MessageType string

// Server to client.
const (
	TypeSessionStart        MessageType = "SESSION_START"
	TypeSessionStop         MessageType = "SESSION_STOP"
	TypeSessionTimeUpdate   MessageType = "SESSION_TIME_UPDATE"
	TypeSessionTariffUpdate MessageType = "SESSION_TARIFF_UPDATE"
	TypeSessionSync         MessageType = "SESSION_SYNC"
	TypeUnlock              MessageType = "UNLOCK"
	TypeShutdown            MessageType = "SHUTDOWN"
	TypeAck                 MessageType = "ACK"
	TypePong                MessageType = "PONG"
	TypeError               MessageType = "ERROR"
)

// Client to server.
const (
	TypeClientRegister           MessageType = "CLIENT_REGISTER"
	TypeHeartbeat                MessageType = "HEARTBEAT"
	TypeClientSessionStopRequest MessageType = "CLIENT_SESSION_STOP_REQUEST"
	TypePing                     MessageType = "PING"
)

var catalog = map[MessageType]bool{
	TypeSessionStart:             true,
	TypeSessionStop:              true,
	TypeSessionTimeUpdate:        true,
	TypeSessionTariffUpdate:      true,
	TypeSessionSync:              true,
	TypeUnlock:                   true,
	TypeShutdown:                 true,
	TypeAck:                      true,
	TypePong:                     true,
	TypeError:                    true,
	TypeClientRegister:           true,
	TypeHeartbeat:                true,
	TypeClientSessionStopRequest: true,
	TypePing:                     true,
}

// IsKnown reports whether t is part of the catalog.
func IsKnown(t MessageType) bool {
	return catalog[t]
}

// SessionStart begins a session on the client. DurationMinutes 0 means unlimited.
type SessionStart struct {
	SessionID       string  `json:"session_id,omitempty"`
	DurationMinutes int     `json:"duration_minutes"`
	IsUnlimited     bool    `json:"is_unlimited"`
	FreeMode        bool    `json:"free_mode"`
	CostPerHour     float64 `json:"cost_per_hour"`
}

// SessionStop carries the final figures exactly as persisted.
type SessionStop struct {
	SessionID      string  `json:"session_id,omitempty"`
	Reason         string  `json:"reason"`
	ActualDuration int     `json:"actual_duration"`
	Cost           float64 `json:"cost"`
}

// SessionTimeUpdate restarts the countdown from receipt time.
type SessionTimeUpdate struct {
	NewDurationMinutes int    `json:"new_duration_minutes"`
	Reason             string `json:"reason,omitempty"`
}

type SessionTariffUpdate struct {
	FreeMode    bool    `json:"free_mode"`
	CostPerHour float64 `json:"cost_per_hour"`
	Reason      string  `json:"reason,omitempty"`
}

// SessionSync restores an active session on a client whose local view was discarded.
// RemainingSeconds is nil for unlimited sessions.
type SessionSync struct {
	SessionID        string  `json:"session_id"`
	DurationMinutes  int     `json:"duration_minutes"`
	RemainingSeconds *int64  `json:"remaining_seconds"`
	FreeMode         bool    `json:"free_mode"`
	CostPerHour      float64 `json:"cost_per_hour"`
}

type Unlock struct{}

type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

type Ack struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ClientRegister struct {
	HardwareID string `json:"hwid"`
	Name       string `json:"name"`
	IPAddress  string `json:"ip_address,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
}

// Heartbeat is advisory telemetry. ReportedRemainingSeconds is nil when the
// client has no bounded countdown.
type Heartbeat struct {
	ReportedRemainingSeconds *int   `json:"reported_remaining_seconds"`
	Status                   string `json:"status,omitempty"`
}

type ClientSessionStopRequest struct {
	Reason string `json:"reason,omitempty"`
}
