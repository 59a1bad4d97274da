package bus

// Agent health topics — published by the backoff/health tracker when an
// agent's failure streak changes its compute or bans it entirely.
const (
	TopicAgentBackoff = "agent.backoff"
	TopicAgentBanned  = "agent.banned"
)

// Run lifecycle topics — published by the supervisor as a spawned
// process's state changes, ahead of the coarser task.* topics.
const (
	TopicRunStarted   = "run.started"
	TopicRunCompleted = "run.completed"
)

// AgentBackoffEvent is published when an agent's consecutive-failure
// streak changes its current backoff delay.
type AgentBackoffEvent struct {
	Agent             string
	ConsecutiveFailed int
	DelaySeconds      float64
}

// AgentBannedEvent is published when an agent exceeds the consecutive
// failure threshold and is excluded from further spawns.
type AgentBannedEvent struct {
	Agent             string
	ConsecutiveFailed int
}

// RunStartedEvent is published when the supervisor spawns a process for a task.
type RunStartedEvent struct {
	RunID  string
	TaskID string
	Agent  string
	Pid    int
}

// RunCompletedEvent is published when a spawned process exits.
type RunCompletedEvent struct {
	RunID    string
	TaskID   string
	Agent    string
	ExitCode int
	Success  bool
}
