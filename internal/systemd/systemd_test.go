package systemd

import "testing"

func TestGetListeners_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("GetListeners failed: %v", err)
	}
	if listeners.Activated || listeners.WebSocket != nil {
		t.Errorf("Expected no activation outside systemd, got %+v", listeners)
	}
}

func TestNotify_NoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if err := NotifyReady(); err != nil {
		t.Errorf("NotifyReady outside systemd should not fail: %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Errorf("NotifyStopping outside systemd should not fail: %v", err)
	}
}
