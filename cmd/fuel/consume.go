package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/ashleyhindle/fuel/internal/bus"
	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/cron"
	"github.com/ashleyhindle/fuel/internal/health"
	"github.com/ashleyhindle/fuel/internal/ipcserver"
	otelpkg "github.com/ashleyhindle/fuel/internal/otel"
	"github.com/ashleyhindle/fuel/internal/scheduler"
	"github.com/ashleyhindle/fuel/internal/store"
	"github.com/ashleyhindle/fuel/internal/supervisor"
	"github.com/ashleyhindle/fuel/internal/telemetry"
)

func runConsumeCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fuel consume", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: fuel consume")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fatalStartup("config load", err)
	}

	// Humans watching a terminal get a quiet stdout and a one-line
	// banner; anything non-interactive (systemd, docker logs) gets raw
	// JSON on stdout so log collectors can ingest it directly.
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup("logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:     cfg.Otel.Endpoint != "",
		Exporter:    "otlp",
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: "fuel",
	})
	if err != nil {
		fatalStartup("otel init", err)
	}
	defer otelProvider.Shutdown(ctx)

	s, err := store.Open(store.DefaultDBPath(cfg.HomeDir))
	if err != nil {
		fatalStartup("store open", err)
	}
	defer s.Close()

	tasks := store.NewTaskRepo(s)
	epics := store.NewEpicRepo(s, tasks)
	runs := store.NewRunRepo(s)
	schedules := store.NewScheduleRepo(s)

	tracker := health.New()

	caps := make(map[string]int, len(cfg.Agents))
	for name, ac := range cfg.Agents {
		caps[name] = ac.MaxConcurrent
	}
	super := supervisor.New(filepath.Join(cfg.HomeDir, "processes"), caps, logger)

	ipc := ipcserver.New(cfg.BindAddr, logger)
	if err := ipc.Start(cfg.ConsumePort); err != nil {
		fatalStartup("ipc listen", err)
	}
	defer ipc.Stop()

	eventBus := bus.NewWithLogger(logger)

	sched := scheduler.New(scheduler.Config{
		Tasks:      tasks,
		Epics:      epics,
		Runs:       runs,
		Health:     tracker,
		Supervisor: super,
		IPC:        ipc,
		Bus:        eventBus,
		AgentCfg:   cfg,
		Logger:     logger,
	})
	if err := sched.Start(ctx); err != nil {
		fatalStartup("scheduler start", err)
	}
	defer sched.Stop()

	cronSched := cron.NewScheduler(cron.Config{Schedules: schedules, Tasks: tasks, Logger: logger})
	cronSched.Start(ctx)
	defer cronSched.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup("config watcher start", err)
	}
	go watchConfigReloads(ctx, watcher, cfg, super, logger)

	if interactive {
		fmt.Printf("fuel consume: listening on %s:%d, logs at %s\n",
			cfg.BindAddr, cfg.ConsumePort, filepath.Join(cfg.HomeDir, "logs", "system.jsonl"))
	}
	logger.Info("consume loop running", "bind_addr", cfg.BindAddr, "consume_port", cfg.ConsumePort)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return 0
}

// watchConfigReloads drains hot-reload events from the config watcher.
// max_concurrent changes apply immediately via Supervisor.UpdateCaps;
// a changed bind_addr, consume_port, or primary agent is logged at
// warn and otherwise ignored, since those require a process restart.
func watchConfigReloads(ctx context.Context, watcher *config.Watcher, cfg config.Config, super *supervisor.Supervisor, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			logger.Info("config hot-reload event", "path", ev.Path)
			newCfg, err := config.Load(cfg.HomeDir)
			if err != nil {
				logger.Warn("config.yaml reload failed, keeping previous config", "error", err)
				continue
			}
			if newCfg.BindAddr != cfg.BindAddr || newCfg.ConsumePort != cfg.ConsumePort || newCfg.Primary != cfg.Primary {
				logger.Warn("bind_addr, consume_port, and primary are not hot-reloadable; restart to apply",
					"bind_addr", newCfg.BindAddr, "consume_port", newCfg.ConsumePort, "primary", newCfg.Primary)
			}
			caps := make(map[string]int, len(newCfg.Agents))
			for name, ac := range newCfg.Agents {
				caps[name] = ac.MaxConcurrent
			}
			super.UpdateCaps(caps)
			logger.Info("agent concurrency caps reloaded", "agents", len(caps))
		}
	}
}
