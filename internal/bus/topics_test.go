package bus

import "testing"

func TestEventTopics_Constants(t *testing.T) {
	if TopicAgentBackoff == "" {
		t.Fatal("TopicAgentBackoff is empty")
	}
	if TopicAgentBanned == "" {
		t.Fatal("TopicAgentBanned is empty")
	}
	if TopicRunStarted == "" {
		t.Fatal("TopicRunStarted is empty")
	}
	if TopicRunCompleted == "" {
		t.Fatal("TopicRunCompleted is empty")
	}

	topics := map[string]bool{
		TopicAgentBackoff: true,
		TopicAgentBanned:  true,
		TopicRunStarted:   true,
		TopicRunCompleted: true,
	}
	if len(topics) != 4 {
		t.Fatalf("expected 4 unique topics, got %d", len(topics))
	}
}

func TestAgentBackoffEvent_Fields(t *testing.T) {
	event := AgentBackoffEvent{
		Agent:             "coder",
		ConsecutiveFailed: 3,
		DelaySeconds:      8,
	}
	if event.Agent != "coder" {
		t.Fatalf("Agent mismatch: got %s, want coder", event.Agent)
	}
	if event.ConsecutiveFailed != 3 {
		t.Fatalf("ConsecutiveFailed mismatch: got %d, want 3", event.ConsecutiveFailed)
	}
	if event.DelaySeconds != 8 {
		t.Fatalf("DelaySeconds mismatch: got %v, want 8", event.DelaySeconds)
	}
}

func TestAgentBannedEvent_Fields(t *testing.T) {
	event := AgentBannedEvent{Agent: "coder", ConsecutiveFailed: 10}
	if event.Agent == "" {
		t.Fatal("Agent must not be empty")
	}
	if event.ConsecutiveFailed != 10 {
		t.Fatalf("ConsecutiveFailed mismatch: got %d, want 10", event.ConsecutiveFailed)
	}
}

func TestRunStartedEvent_Fields(t *testing.T) {
	event := RunStartedEvent{RunID: "run-abc123", TaskID: "tsk-abc123", Agent: "coder", Pid: 4242}
	if event.RunID == "" || event.TaskID == "" || event.Agent == "" {
		t.Fatal("RunStartedEvent fields must not be empty")
	}
	if event.Pid != 4242 {
		t.Fatalf("Pid mismatch: got %d, want 4242", event.Pid)
	}
}

func TestRunCompletedEvent_Fields(t *testing.T) {
	event := RunCompletedEvent{RunID: "run-abc123", TaskID: "tsk-abc123", Agent: "coder", ExitCode: 1, Success: false}
	if event.Success {
		t.Fatal("expected Success=false for non-zero exit code")
	}
	if event.ExitCode != 1 {
		t.Fatalf("ExitCode mismatch: got %d, want 1", event.ExitCode)
	}
}
