package notifier

import "testing"

func TestNopNotifierNeverErrors(t *testing.T) {
	var n NopNotifier
	if err := n.Notify("hello", "/tmp/a.mp4"); err != nil {
		t.Errorf("expected no error from NopNotifier, got %v", err)
	}
}

func TestRecordingNotifierRecordsCalls(t *testing.T) {
	r := &RecordingNotifier{}
	if err := r.Notify("tripwire_alert at t=4", "/out/tripwire_alert_2026-01-01_00-00-00.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Messages) != 1 {
		t.Fatalf("expected 1 recorded message, got %d", len(r.Messages))
	}
	if r.Messages[0].Message != "tripwire_alert at t=4" {
		t.Errorf("unexpected message: %q", r.Messages[0].Message)
	}
	if r.Messages[0].FilePath == "" {
		t.Error("expected a non-empty file path")
	}
}
