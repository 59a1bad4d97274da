// Package scheduler implements the tick-driven consume loop (C10) that
// ties the backoff tracker, health tracker, supervisor, and the task/
// epic/run repositories together. It is the only component that
// mutates task/epic/run state at runtime: every other component is
// either pure (C1), read-only over the snapshot it's given, or driven
// exclusively from within a tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashleyhindle/fuel/internal/audit"
	"github.com/ashleyhindle/fuel/internal/bus"
	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/health"
	"github.com/ashleyhindle/fuel/internal/ipcproto"
	"github.com/ashleyhindle/fuel/internal/ipcserver"
	"github.com/ashleyhindle/fuel/internal/shared"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/supervisor"
)

// defaultTickInterval is the inter-tick sleep per spec §4.10 step 8.
const defaultTickInterval = 100 * time.Millisecond

// Config wires every dependency the scheduler needs. Nothing here is
// constructed by the scheduler itself — pure dependency injection, per
// spec §9's design note.
type Config struct {
	Tasks      *store.TaskRepo
	Epics      *store.EpicRepo
	Runs       *store.RunRepo
	Health     *health.Tracker
	Supervisor *supervisor.Supervisor
	IPC        *ipcserver.Server
	Bus        *bus.Bus
	AgentCfg   config.Config
	Logger     *slog.Logger

	TickInterval time.Duration
}

// Scheduler is the C10 tick loop.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup

	paused bool // mutated only inside tick(); single-threaded loop
}

// New returns a Scheduler ready to Start.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Scheduler{cfg: cfg, logger: cfg.Logger}
}

// Start runs orphan cleanup exactly once, then launches the tick loop
// in a background goroutine. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	var startErr error
	s.once.Do(func() {
		if err := audit.Init(s.cfg.AgentCfg.HomeDir); err != nil {
			startErr = err
			return
		}

		n, err := s.cfg.Runs.CleanupOrphanedRuns(ctx)
		if err != nil {
			startErr = err
			return
		}
		if n > 0 {
			s.logger.Warn("orphaned runs marked failed at startup", "count", n)
		}

		loopCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(loopCtx)
		}()
	})
	return startErr
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = audit.Close()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		tickCtx := shared.WithTraceID(ctx, shared.NewTraceID())
		tickLogger := s.logger.With("trace_id", shared.TraceID(tickCtx))
		if err := s.tick(tickCtx, tickLogger); err != nil {
			tickLogger.Error("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs the eight steps of spec §4.10 in order. Completions are
// always processed before new spawns, and spawns proceed strictly in
// ready() order, per §4.10's ordering guarantee.
func (s *Scheduler) tick(ctx context.Context, logger *slog.Logger) error {
	s.drainInbound(ctx, logger)

	// Snapshot tasks per §4.10 step 3. Ready() re-reads the store rather
	// than filtering this slice, since the single-writer invariant means
	// nothing else can mutate task rows between here and step 5/6 — but
	// the snapshot still grounds the tick's "no partial transition" read.
	if _, err := s.cfg.Tasks.All(ctx); err != nil {
		return err
	}

	s.processCompletions(ctx, logger)

	if !s.paused {
		s.spawnReady(ctx, logger)
	}

	s.broadcastSnapshot(ctx)
	return nil
}

// drainInbound applies step 1: pause/resume/retry commands queued by
// IPC clients since the last tick.
func (s *Scheduler) drainInbound(ctx context.Context, logger *slog.Logger) {
	if s.cfg.IPC == nil {
		return
	}
	for _, id := range s.cfg.IPC.Accept() {
		logger.Debug("ipc client accepted", "client_id", id)
	}
	for clientID, msgs := range s.cfg.IPC.Poll() {
		for _, m := range msgs {
			switch m.Kind {
			case ipcproto.KindPause:
				s.paused = true
				logger.Info("consume paused", "client_id", clientID)
			case ipcproto.KindResume:
				s.paused = false
				logger.Info("consume resumed", "client_id", clientID)
			case ipcproto.KindRetry:
				id, _ := m.Fields["id"].(string)
				if id == "" {
					continue
				}
				if err := s.cfg.Tasks.Retry(ctx, id); err != nil {
					logger.Warn("retry command failed", "task_id", id, "error", err)
				}
			case ipcproto.KindSubscribe:
				// observational; no state change
			case ipcproto.KindError:
				logger.Warn("ipc client sent an unrecognized or malformed message", "client_id", clientID, "raw", m.Raw)
			default:
				logger.Warn("ipc client sent an unexpected kind", "client_id", clientID, "kind", m.Kind)
			}
		}
	}
}

// processCompletions runs step 4: every process the supervisor reports
// as exited since the last tick is reconciled against its run and task
// rows before any new spawn is considered.
func (s *Scheduler) processCompletions(ctx context.Context, logger *slog.Logger) {
	for _, c := range s.cfg.Supervisor.Poll() {
		now := time.Now().UTC()
		output := c.Output
		sessionID := c.SessionID
		exitCode := c.ExitCode
		patch := store.RunPatch{
			EndedAt:   &now,
			ExitCode:  &exitCode,
			Output:    &output,
			SessionID: &sessionID,
		}
		if err := s.cfg.Runs.UpdateLatestRun(ctx, c.TaskID, patch); err != nil {
			logger.Warn("update latest run failed", "task_id", c.TaskID, "error", err)
		}

		switch c.Kind {
		case supervisor.CompletionSuccess:
			if err := s.cfg.Tasks.RecordCompletion(ctx, c.TaskID, exitCode, output); err != nil {
				logger.Warn("record completion failed", "task_id", c.TaskID, "error", err)
			}
			if err := s.cfg.Tasks.Done(ctx, c.TaskID, "completed by agent", ""); err != nil {
				logger.Warn("mark task closed failed", "task_id", c.TaskID, "error", err)
			}
			audit.Record("task", c.TaskID, "in_progress", "closed", "completed by agent")
			s.cfg.Health.RecordSuccess(c.Agent)
			s.recomputeEpicFor(ctx, logger, c.TaskID)
			s.publishRunCompleted(c, true)
			s.broadcast(ipcproto.KindTaskCompleted, map[string]any{"task_id": c.TaskID, "agent": c.Agent})

		case supervisor.CompletionNetworkError, supervisor.CompletionFailed:
			if err := s.cfg.Tasks.RecordCompletion(ctx, c.TaskID, exitCode, output); err != nil {
				logger.Warn("record completion failed", "task_id", c.TaskID, "error", err)
			}
			audit.Record("task", c.TaskID, "in_progress", "in_progress", fmt.Sprintf("agent run failed: exit %d", exitCode))
			s.cfg.Health.RecordFailure(c.Agent)
			s.publishRunCompleted(c, false)
			s.broadcast(ipcproto.KindTaskFailed, map[string]any{"task_id": c.TaskID, "agent": c.Agent, "exit_code": exitCode})
			s.publishBackoff(c.Agent)

		case supervisor.CompletionPermissionBlocked:
			if err := s.cfg.Tasks.RecordCompletion(ctx, c.TaskID, exitCode, output); err != nil {
				logger.Warn("record completion failed", "task_id", c.TaskID, "error", err)
			}
			if err := s.cfg.Tasks.Reopen(ctx, c.TaskID); err != nil {
				logger.Warn("reopen task failed", "task_id", c.TaskID, "error", err)
			}
			if err := s.cfg.Tasks.AddLabel(ctx, c.TaskID, "needs-human"); err != nil {
				logger.Warn("add needs-human label failed", "task_id", c.TaskID, "error", err)
			}
			audit.Record("task", c.TaskID, "in_progress", "open", "permission blocked, needs-human")
			s.broadcast(ipcproto.KindTaskFailed, map[string]any{"task_id": c.TaskID, "agent": c.Agent, "reason": "permission_blocked"})
		}
	}
}

func (s *Scheduler) recomputeEpicFor(ctx context.Context, logger *slog.Logger, taskID string) {
	t, err := s.cfg.Tasks.Find(ctx, taskID)
	if err != nil || t.EpicID == "" {
		return
	}
	e, err := s.cfg.Epics.Find(ctx, t.EpicID)
	if err != nil {
		logger.Warn("find owning epic failed", "epic_id", t.EpicID, "error", err)
		return
	}
	if _, err := s.cfg.Epics.Status(ctx, e); err != nil {
		logger.Warn("compute epic status failed", "epic_id", e.ID, "error", err)
	}
}

// spawnReady runs steps 5–6: compute the ready set, then spawn in
// order while agent capacity and health allow.
func (s *Scheduler) spawnReady(ctx context.Context, logger *slog.Logger) {
	ready, err := s.cfg.Tasks.Ready(ctx)
	if err != nil {
		logger.Warn("compute ready tasks failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, t := range ready {
		route := s.cfg.AgentCfg.AgentFor(config.Complexity(t.Complexity))
		agentName := route.Agent
		if agentName == "" {
			continue
		}
		if !s.cfg.Health.IsAvailable(agentName, now) {
			continue
		}
		if !s.cfg.Supervisor.CanSpawn(agentName) {
			continue
		}

		def := agentDefFor(s.cfg.AgentCfg, agentName, route)
		prompt := renderPrompt(t)
		cwd := s.cfg.AgentCfg.HomeDir

		result := s.cfg.Supervisor.SpawnForTask(t.ID, prompt, cwd, def)
		switch result.Outcome {
		case supervisor.SpawnSuccess:
			pid := result.Process.Pid()
			if err := s.cfg.Tasks.MarkConsuming(ctx, t.ID, pid); err != nil {
				logger.Warn("mark consuming failed", "task_id", t.ID, "error", err)
			}
			audit.Record("task", t.ID, "open", "in_progress", fmt.Sprintf("spawned on %s", agentName))
			runID, err := s.cfg.Runs.CreateRun(ctx, t.ID, store.RunInput{Agent: agentName, Model: route.Model})
			if err != nil {
				logger.Warn("create run failed", "task_id", t.ID, "error", err)
			}
			if s.cfg.Bus != nil {
				s.cfg.Bus.Publish(bus.TopicRunStarted, bus.RunStartedEvent{RunID: runID, TaskID: t.ID, Agent: agentName, Pid: pid})
			}
			s.broadcast(ipcproto.KindTaskStarted, map[string]any{"task_id": t.ID, "agent": agentName, "pid": pid, "run_id": runID})
		case supervisor.SpawnFailed, supervisor.SpawnConfigError:
			logger.Warn("spawn failed", "task_id", t.ID, "agent", agentName, "message", result.Message)
		case supervisor.SpawnAtCapacity, supervisor.SpawnAgentInBackoff:
			// try the next ready task; this agent just has no room right now
		}
	}
}

func (s *Scheduler) publishRunCompleted(c supervisor.CompletionResult, success bool) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(bus.TopicRunCompleted, bus.RunCompletedEvent{
		TaskID:   c.TaskID,
		Agent:    c.Agent,
		ExitCode: c.ExitCode,
		Success:  success,
	})
}

func (s *Scheduler) publishBackoff(agent string) {
	now := time.Now().UTC()
	failed := s.cfg.Health.ConsecutiveFailures(agent)
	delay := s.cfg.Health.BackoffSeconds(agent, now)
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicAgentBackoff, bus.AgentBackoffEvent{
			Agent:             agent,
			ConsecutiveFailed: failed,
			DelaySeconds:      float64(delay),
		})
	}
	s.broadcast(ipcproto.KindAgentBackoff, map[string]any{"agent": agent, "consecutive_failed": failed, "backoff_seconds": delay})
}

// broadcastSnapshot runs step 7: a summary of running processes, ready
// queue depth, and per-agent backoff remaining.
func (s *Scheduler) broadcastSnapshot(ctx context.Context) {
	if s.cfg.IPC == nil {
		return
	}
	readyDepth := 0
	if ready, err := s.cfg.Tasks.Ready(ctx); err == nil {
		readyDepth = len(ready)
	}
	s.broadcast(ipcproto.KindSnapshot, map[string]any{
		"ready_depth":   readyDepth,
		"client_count":  s.cfg.IPC.ClientCount(),
		"agent_backoff": s.cfg.Health.Snapshot(time.Now().UTC()),
		"paused":        s.paused,
	})
}

func (s *Scheduler) broadcast(kind string, fields map[string]any) {
	if s.cfg.IPC == nil {
		return
	}
	msg := ipcproto.Message{Kind: kind, Ts: time.Now().UTC(), Fields: fields}
	if err := s.cfg.IPC.Broadcast(msg); err != nil {
		s.logger.Warn("broadcast failed", "kind", kind, "error", err)
	}
}

// agentDefFor resolves an AgentConfig entry plus a complexity route
// override into the supervisor's AgentDef shape.
func agentDefFor(cfg config.Config, name string, route config.ComplexityRoute) supervisor.AgentDef {
	ac := cfg.Agents[name]
	model := route.Model
	if model == "" && ac.Model != nil {
		model = *ac.Model
	}
	args := ac.Args
	if len(route.Args) > 0 {
		args = route.Args
	}
	return supervisor.AgentDef{
		Name:          name,
		Command:       ac.Command,
		PromptArgs:    ac.PromptArgs,
		Args:          args,
		Env:           ac.Env,
		Model:         model,
		ResumeArgs:    ac.ResumeArgs,
		MaxConcurrent: ac.MaxConcurrent,
		MaxAttempts:   ac.MaxAttempts,
		MaxRetries:    ac.MaxRetries,
	}
}
