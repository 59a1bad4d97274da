package supervisor

// AgentDef is the resolved command-line shape for one configured agent,
// per spec §6.2's `agents` mapping.
type AgentDef struct {
	Name         string
	Command      string
	PromptArgs   []string
	Args         []string
	Env          map[string]string
	Model        string
	ResumeArgs   []string
	MaxConcurrent int
	MaxAttempts  int
	MaxRetries   int
}
