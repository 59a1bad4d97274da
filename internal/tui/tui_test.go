package tui

import (
	"testing"
	"time"

	"github.com/ashleyhindle/fuel/internal/ipcproto"
)

func TestModelApply_Snapshot(t *testing.T) {
	m := newModel("127.0.0.1:0")
	m.apply(ipcproto.Message{
		Kind: ipcproto.KindSnapshot,
		Ts:   time.Now(),
		Fields: map[string]any{
			"ready_depth":  float64(3),
			"client_count": float64(1),
			"paused":       true,
		},
	})
	if m.readyDepth != 3 {
		t.Fatalf("expected readyDepth 3, got %d", m.readyDepth)
	}
	if m.clientCount != 1 {
		t.Fatalf("expected clientCount 1, got %d", m.clientCount)
	}
	if !m.paused {
		t.Fatal("expected paused true")
	}
}

func TestModelApply_TaskLifecycle(t *testing.T) {
	m := newModel("127.0.0.1:0")
	m.apply(ipcproto.Message{Kind: ipcproto.KindTaskStarted, Fields: map[string]any{"task_id": "f-1", "agent": "worker"}})
	if !m.feed.HasActive() {
		t.Fatal("expected an active feed entry after task_started")
	}
	m.apply(ipcproto.Message{Kind: ipcproto.KindTaskCompleted, Fields: map[string]any{"task_id": "f-1"}})
	if m.feed.HasActive() {
		t.Fatal("expected no active feed entries after task_completed")
	}
}

func TestModelApply_TaskFailedRecordsReason(t *testing.T) {
	m := newModel("127.0.0.1:0")
	m.apply(ipcproto.Message{Kind: ipcproto.KindTaskStarted, Fields: map[string]any{"task_id": "f-2", "agent": "worker"}})
	m.apply(ipcproto.Message{Kind: ipcproto.KindTaskFailed, Fields: map[string]any{"task_id": "f-2", "reason": "permission_blocked"}})
	if m.feed.HasActive() {
		t.Fatal("expected no active feed entries after task_failed")
	}
}

func TestModelApply_ErrorKindSetsLastErr(t *testing.T) {
	m := newModel("127.0.0.1:0")
	m.apply(ipcproto.Message{Kind: ipcproto.KindError, Raw: "not json"})
	if m.lastErr == "" {
		t.Fatal("expected lastErr to be set on an error-kind message")
	}
}

func TestHumanError(t *testing.T) {
	err := errJoin("engine", "brain", "connection refused")
	if got := humanError(err); got != "Connection refused" {
		t.Fatalf("expected %q, got %q", "Connection refused", got)
	}
}

func errJoin(parts ...string) error {
	msg := parts[0]
	for _, p := range parts[1:] {
		msg += ": " + p
	}
	return &joinedErr{msg}
}

type joinedErr struct{ msg string }

func (e *joinedErr) Error() string { return e.msg }
