package types

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSession_RemainingIsDerivedFromStartAndDuration(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &Session{StartTime: start, DurationMinutes: 60, Status: SessionStatusActive}

	remaining, bounded := session.Remaining(start.Add(10 * time.Minute))
	if !bounded {
		t.Fatal("Expected bounded remaining time for 60 minute session")
	}
	if remaining != 50*time.Minute {
		t.Errorf("Expected 50m remaining, got %v", remaining)
	}

	// Moving the baseline is the only way remaining time changes apart from the clock
	session.StartTime = start.Add(10 * time.Minute)
	session.DurationMinutes = 30
	remaining, _ = session.Remaining(start.Add(10 * time.Minute))
	if remaining != 30*time.Minute {
		t.Errorf("Expected 30m remaining after baseline reset, got %v", remaining)
	}
}

func TestSession_RemainingClampsAtZero(t *testing.T) {
	start := time.Now()
	session := &Session{StartTime: start, DurationMinutes: 1}

	remaining, bounded := session.Remaining(start.Add(5 * time.Minute))
	if !bounded || remaining != 0 {
		t.Errorf("Expected clamped zero remaining, got %v bounded=%v", remaining, bounded)
	}
}

func TestSession_UnlimitedIsUnbounded(t *testing.T) {
	session := &Session{StartTime: time.Now(), DurationMinutes: 0}

	if !session.Unlimited() {
		t.Fatal("Duration 0 must mean unlimited")
	}
	if _, bounded := session.Remaining(time.Now().Add(24 * time.Hour)); bounded {
		t.Error("Unlimited session must report unbounded remaining time")
	}
}

func TestSession_CloneIsIndependent(t *testing.T) {
	end := time.Now()
	original := &Session{ID: "s1", DurationMinutes: 10, EndTime: &end}

	clone := original.Clone()
	clone.DurationMinutes = 20
	*clone.EndTime = end.Add(time.Hour)

	if original.DurationMinutes != 10 {
		t.Error("Clone mutation leaked into original duration")
	}
	if !original.EndTime.Equal(end) {
		t.Error("Clone mutation leaked into original end time")
	}
}

func TestSession_Validate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr error
	}{
		{"valid limited", Session{ClientID: "c1", DurationMinutes: 60, CostPerHour: 100}, nil},
		{"valid unlimited", Session{ClientID: "c1", DurationMinutes: 0}, nil},
		{"missing client", Session{DurationMinutes: 60}, ErrInvalidClientID},
		{"negative duration", Session{ClientID: "c1", DurationMinutes: -1}, ErrInvalidDuration},
		{"too long", Session{ClientID: "c1", DurationMinutes: MaxDurationMinutes + 1}, ErrInvalidDuration},
		{"negative tariff", Session{ClientID: "c1", DurationMinutes: 10, CostPerHour: -5}, ErrInvalidTariff},
		{"NaN tariff", Session{ClientID: "c1", DurationMinutes: 10, CostPerHour: math.NaN()}, ErrInvalidTariff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		reg     Registration
		wantErr error
	}{
		{"valid", Registration{HardwareID: "PC-01:aa.bb_cc", Name: "Reading room 1"}, nil},
		{"unicode name", Registration{HardwareID: "pc1", Name: "Читальный зал"}, nil},
		{"empty hwid", Registration{HardwareID: "", Name: "pc"}, ErrInvalidHardwareID},
		{"hwid with space", Registration{HardwareID: "pc 1", Name: "pc"}, ErrInvalidHardwareID},
		{"hwid too long", Registration{HardwareID: strings.Repeat("a", 129), Name: "pc"}, ErrInvalidHardwareID},
		{"empty name", Registration{HardwareID: "pc1", Name: ""}, ErrInvalidClientName},
		{"name too long", Registration{HardwareID: "pc1", Name: strings.Repeat("я", 101)}, ErrInvalidClientName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.reg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliveryStatus(t *testing.T) {
	if Delivered.Err() != nil {
		t.Error("Delivered must map to nil error")
	}
	if !errors.Is(ClientOffline.Err(), ErrClientOffline) {
		t.Error("ClientOffline must map to ErrClientOffline")
	}
	if Delivered.String() != "delivered" || ClientOffline.String() != "client_offline" {
		t.Errorf("Unexpected names: %s %s", Delivered, ClientOffline)
	}
}

func TestClientView_JSONOmitsUnboundedRemaining(t *testing.T) {
	view := ClientView{
		Client:          &Client{ID: "c1", Status: ClientStatusOnline},
		DisplayedStatus: ClientStatusInSession,
		Unlimited:       true,
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "remaining_seconds") {
		t.Errorf("Unbounded remaining must be omitted, got %s", data)
	}
	if !strings.Contains(string(data), `"displayed_status":"in_session"`) {
		t.Errorf("Expected displayed status in JSON, got %s", data)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrClientUnknown, "client_unknown"},
		{ErrClientBusy, "client_busy"},
		{ErrNoActiveSession, "no_active_session"},
		{ErrInvalidDuration, "invalid_request"},
		{ErrInvalidHardwareID, "invalid_request"},
		{ErrRateLimited, "rate_limited"},
		{errors.Join(ErrStoreFailure, errors.New("disk full")), "store_failure"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
