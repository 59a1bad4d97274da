// Package supervisor implements the process supervisor (C6): spawning
// external agent processes, capturing their output, polling them to
// completion, and shutting them down gracefully.
package supervisor

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ashleyhindle/fuel/internal/safety"
)

// maxCapturedBytes bounds in-memory output capture during the process's
// run, independent of the persisted-output truncation store.UpdateLatestRun
// applies at the repository boundary (§9).
const maxCapturedBytes = 256 * 1024

var (
	networkErrorPattern    = regexp.MustCompile(`(?i)network|connection|timeout|api.*error`)
	permissionBlockPattern = regexp.MustCompile(`(?i)permission.*denied|blocked.*tool|require.*approval`)

	sessionIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Session ID:\s*([0-9a-fA-F-]{36})`),
		regexp.MustCompile(`session_id[:=]\s*([0-9a-fA-F-]{36})`),
	}

	outputRedactor = safety.NewRedactor()
)

// Process is a live, tracked agent process.
type Process struct {
	TaskID string
	Agent  string

	cmd       *exec.Cmd
	startedAt time.Time

	mu        sync.Mutex
	combined  bytes.Buffer
	sessionID string

	done     chan struct{}
	waitErr  error
	exitCode int
}

func (p *Process) write(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.combined.Len() < maxCapturedBytes {
		room := maxCapturedBytes - p.combined.Len()
		if len(b) > room {
			b = b[:room]
		}
		p.combined.Write(b)
	}
	if p.sessionID == "" {
		for _, pat := range sessionIDPatterns {
			if m := pat.FindSubmatch(b); m != nil {
				p.sessionID = string(m[1])
				break
			}
		}
	}
}

// Pid returns the OS process id, or 0 if not started.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Supervisor tracks live agent processes and enforces per-agent
// concurrency caps.
type Supervisor struct {
	mu         sync.Mutex
	logger     *slog.Logger
	baseDir    string // .fuel/processes
	caps       map[string]int
	liveCount  map[string]int
	processes  map[string]*Process // keyed by task id
}

// New returns a Supervisor that captures output under baseDir and uses
// per-agent concurrency caps from caps (agent name -> max_concurrent).
func New(baseDir string, caps map[string]int, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if caps == nil {
		caps = map[string]int{}
	}
	return &Supervisor{
		logger:    logger,
		baseDir:   baseDir,
		caps:      caps,
		liveCount: make(map[string]int),
		processes: make(map[string]*Process),
	}
}

// UpdateCaps replaces the per-agent concurrency caps, allowing
// max_concurrent changes to take effect without a restart (config
// hot-reload; the reloadable half of the config watcher's contract).
func (s *Supervisor) UpdateCaps(caps map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
}

// CanSpawn reports whether the agent has spare capacity.
func (s *Supervisor) CanSpawn(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap := s.caps[agent]
	if cap <= 0 {
		cap = 2 // spec default
	}
	return s.liveCount[agent] < cap
}

// LiveCount returns the number of currently running processes for agent.
func (s *Supervisor) LiveCount(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCount[agent]
}

// SpawnForTask starts an agent process for taskID. cwd is the working
// directory the agent should run in; prompt is the rendered task prompt.
func (s *Supervisor) SpawnForTask(taskID, prompt, cwd string, def AgentDef) SpawnResult {
	if def.Command == "" {
		return SpawnResult{Outcome: SpawnConfigError, Message: fmt.Sprintf("agent %q has no command configured", def.Name)}
	}
	if !s.CanSpawn(def.Name) {
		return SpawnResult{Outcome: SpawnAtCapacity, Agent: def.Name}
	}

	promptArgs := def.PromptArgs
	if len(promptArgs) == 0 {
		promptArgs = []string{"-p"}
	}
	args := append([]string{}, promptArgs...)
	args = append(args, prompt)
	if def.Model != "" {
		args = append(args, "--model", def.Model)
	}
	args = append(args, def.Args...)

	cmd := exec.Command(def.Command, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	proc := &Process{
		TaskID: taskID,
		Agent:  def.Name,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	stdoutFile, stderrFile := s.openCaptureFiles(taskID)
	writers := []func([]byte){proc.write}
	cmd.Stdout = newFanoutWriter(stdoutFile, writers)
	cmd.Stderr = newFanoutWriter(stderrFile, writers)

	if err := cmd.Start(); err != nil {
		closeBestEffort(stdoutFile)
		closeBestEffort(stderrFile)
		return SpawnResult{Outcome: SpawnFailed, TaskID: taskID, Message: err.Error()}
	}

	proc.startedAt = time.Now()

	s.mu.Lock()
	s.liveCount[def.Name]++
	s.processes[taskID] = proc
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		closeBestEffort(stdoutFile)
		closeBestEffort(stderrFile)
		proc.mu.Lock()
		proc.waitErr = err
		if cmd.ProcessState != nil {
			proc.exitCode = cmd.ProcessState.ExitCode()
		} else {
			proc.exitCode = -1
		}
		proc.mu.Unlock()
		close(proc.done)
	}()

	return SpawnResult{Outcome: SpawnSuccess, Process: proc}
}

// openCaptureFiles creates fresh stdout.log/stderr.log under
// baseDir/<task-id>/. Failure to create the directory or files is
// best-effort: the returned files may be nil, in which case captured
// output is simply not written to disk (the authoritative record is
// the exit code, per spec §9).
func (s *Supervisor) openCaptureFiles(taskID string) (stdout, stderr *os.File) {
	dir := filepath.Join(s.baseDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("process output dir create failed", "task_id", taskID, "error", err)
		return nil, nil
	}
	stdout, err := os.Create(filepath.Join(dir, "stdout.log"))
	if err != nil {
		s.logger.Warn("stdout capture file create failed", "task_id", taskID, "error", err)
		stdout = nil
	}
	stderr, err = os.Create(filepath.Join(dir, "stderr.log"))
	if err != nil {
		s.logger.Warn("stderr capture file create failed", "task_id", taskID, "error", err)
		stderr = nil
	}
	return stdout, stderr
}

func closeBestEffort(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// Poll returns a CompletionResult for every process that has exited
// since the last call, unregistering each and decrementing its agent's
// live count.
func (s *Supervisor) Poll() []CompletionResult {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	var results []CompletionResult
	for _, p := range procs {
		select {
		case <-p.done:
			results = append(results, s.finalize(p))
		default:
			// still running
		}
	}
	return results
}

func (s *Supervisor) finalize(p *Process) CompletionResult {
	s.mu.Lock()
	delete(s.processes, p.TaskID)
	if s.liveCount[p.Agent] > 0 {
		s.liveCount[p.Agent]--
	}
	s.mu.Unlock()

	p.mu.Lock()
	exitCode := p.exitCode
	output := p.combined.String()
	sessionID := p.sessionID
	p.mu.Unlock()

	kind := classify(exitCode, output)
	redacted := outputRedactor.Redact(output)

	return CompletionResult{
		TaskID:    p.TaskID,
		Agent:     p.Agent,
		Kind:      kind,
		ExitCode:  exitCode,
		Duration:  time.Since(p.startedAt),
		SessionID: sessionID,
		Output:    redacted,
	}
}

func classify(exitCode int, output string) CompletionKind {
	if exitCode == 0 {
		return CompletionSuccess
	}
	if exitCode == 1 {
		if networkErrorPattern.MatchString(output) {
			return CompletionNetworkError
		}
		if permissionBlockPattern.MatchString(output) {
			return CompletionPermissionBlocked
		}
	}
	return CompletionFailed
}

// IsAlive performs a platform-portable liveness probe (signal-0 probe).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; Signal(0) is the actual probe.
	err = proc.Signal(syscallSignal0())
	return err == nil
}
