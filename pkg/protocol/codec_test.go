package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestNew_SessionStopCarriesFinalFigures(t *testing.T) {
	env, err := New(TypeSessionStop, SessionStop{SessionID: "s1", Reason: "manual", ActualDuration: 30, Cost: 50})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	wire := string(data)
	for _, want := range []string{`"type":"SESSION_STOP"`, `"actual_duration":30`, `"cost":50`, `"reason":"manual"`} {
		if !strings.Contains(wire, want) {
			t.Errorf("Expected %s in %s", want, wire)
		}
	}
}

func TestNew_NilPayloadOmitted(t *testing.T) {
	env, err := New(TypeUnlock, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	data, _ := Marshal(env)
	if strings.Contains(string(data), "payload") {
		t.Errorf("Nil payload should be omitted, got %s", data)
	}

	// Decoding a payload-less envelope yields the zero value
	if _, err := Decode[Unlock](env); err != nil {
		t.Errorf("Decode of empty payload failed: %v", err)
	}
}

func TestUnmarshal_HeartbeatWithNullRemaining(t *testing.T) {
	env, err := Unmarshal([]byte(`{"type":"HEARTBEAT","payload":{"reported_remaining_seconds":null,"status":"online"}}`))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	hb, err := Decode[Heartbeat](env)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if hb.ReportedRemainingSeconds != nil {
		t.Errorf("Expected nil remaining, got %d", *hb.ReportedRemainingSeconds)
	}
	if hb.Status != "online" {
		t.Errorf("Expected status online, got %q", hb.Status)
	}
}

func TestUnmarshal_HeartbeatWithRemaining(t *testing.T) {
	env, err := Unmarshal([]byte(`{"type":"HEARTBEAT","payload":{"reported_remaining_seconds":1795}}`))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	hb, err := Decode[Heartbeat](env)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if hb.ReportedRemainingSeconds == nil || *hb.ReportedRemainingSeconds != 1795 {
		t.Errorf("Expected 1795 remaining, got %v", hb.ReportedRemainingSeconds)
	}
}

func TestUnmarshal_UnknownTypeIsNotAnError(t *testing.T) {
	env, err := Unmarshal([]byte(`{"type":"CONFIG_UPDATE","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("Unknown types must decode, got %v", err)
	}
	if env.Known() {
		t.Error("CONFIG_UPDATE should not be part of the catalog")
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	if _, err := Unmarshal([]byte(`{not json`)); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Expected ErrMalformedEnvelope, got %v", err)
	}
	if _, err := Unmarshal([]byte(`{"payload":{}}`)); !errors.Is(err, ErrMissingType) {
		t.Errorf("Expected ErrMissingType, got %v", err)
	}
}

func TestDecode_PayloadMismatch(t *testing.T) {
	env, err := Unmarshal([]byte(`{"type":"SESSION_START","payload":{"duration_minutes":"sixty"}}`))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, err := Decode[SessionStart](env); !errors.Is(err, ErrPayloadMismatch) {
		t.Errorf("Expected ErrPayloadMismatch, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	known := []MessageType{
		TypeSessionStart, TypeSessionStop, TypeSessionTimeUpdate, TypeSessionTariffUpdate,
		TypeClientSessionStopRequest, TypeUnlock, TypeHeartbeat,
		TypeClientRegister, TypeAck, TypeSessionSync, TypePing, TypePong, TypeShutdown, TypeError,
	}
	for _, mt := range known {
		if !IsKnown(mt) {
			t.Errorf("%s should be known", mt)
		}
	}
}
