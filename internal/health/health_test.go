package health

import (
	"testing"
	"time"
)

func TestRecordFailureSetsBackoff(t *testing.T) {
	tr := NewWithParams(5*time.Second, 300*time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.RecordFailure("claude")
	tr.RecordFailure("claude")
	tr.RecordFailure("claude")

	// Third failure: delay(2) = 5*2^2 = 20s.
	if tr.IsAvailable("claude", base.Add(19*time.Second)) {
		t.Fatal("expected agent unavailable within backoff window")
	}
	if !tr.IsAvailable("claude", base.Add(20*time.Second)) {
		t.Fatal("expected agent available once window elapses")
	}
	if got := tr.BackoffSeconds("claude", base); got != 20 {
		t.Fatalf("BackoffSeconds = %d, want 20", got)
	}
}

func TestRecordSuccessResetsBackoff(t *testing.T) {
	tr := New()
	tr.RecordFailure("agent")
	tr.RecordFailure("agent")
	tr.RecordSuccess("agent")
	if tr.ConsecutiveFailures("agent") != 0 {
		t.Fatal("expected failure count reset to 0")
	}
	if !tr.IsAvailable("agent", time.Now()) {
		t.Fatal("expected agent available immediately after success")
	}
}

func TestIsAvailableUnknownAgent(t *testing.T) {
	tr := New()
	if !tr.IsAvailable("nobody", time.Now()) {
		t.Fatal("expected unknown agent to be available")
	}
	if tr.BackoffSeconds("nobody", time.Now()) != 0 {
		t.Fatal("expected unknown agent to have 0 backoff")
	}
}

func TestSnapshot(t *testing.T) {
	tr := NewWithParams(5*time.Second, 300*time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.RecordFailure("a")

	snap := tr.Snapshot(base)
	if snap["a"] != 5 {
		t.Fatalf("snapshot = %v, want a:5", snap)
	}
}
