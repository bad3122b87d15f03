package diagnostics

import "testing"

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndListDesyncs(t *testing.T) {
	l := openTestLog(t)

	if err := l.RecordDesync(100, 1, 0xAAAA, 0xBBBB); err != nil {
		t.Fatalf("record desync: %v", err)
	}
	if err := l.RecordDesync(101, 2, 0xCCCC, 0xDDDD); err != nil {
		t.Fatalf("record desync: %v", err)
	}

	events, err := l.RecentDesyncs(10)
	if err != nil {
		t.Fatalf("recent desyncs: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Frame != 101 || events[0].Port != 2 {
		t.Fatalf("expected newest-first ordering, got %+v", events[0])
	}
	if events[0].RunID != l.RunID() {
		t.Fatalf("run_id = %q, want %q", events[0].RunID, l.RunID())
	}
}

func TestRecordSaveStateTransfer(t *testing.T) {
	l := openTestLog(t)

	if err := l.RecordSaveStateTransfer(0xA, 42, 8, "ok", ""); err != nil {
		t.Fatalf("record transfer: %v", err)
	}
	if err := l.RecordSaveStateTransfer(0xB, 43, 6, "integrity_failure", "checksum mismatch"); err != nil {
		t.Fatalf("record transfer: %v", err)
	}
}
