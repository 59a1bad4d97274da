// Package doctor runs startup diagnostics against a fuel home directory:
// config validity, database health, filesystem permissions, and whether
// every configured agent command is actually reachable on PATH.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against cfg.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDatabase,
		checkPermissions,
		checkAgentCommands,
		checkConsumePort,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	if cfg.Primary == "" {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "no primary agent configured"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", config.ConfigPath(cfg.HomeDir))}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.HomeDir == "" {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "config missing"}
	}
	dbPath := store.DefaultDBPath(cfg.HomeDir)
	s, err := store.Open(dbPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer s.Close()

	if err := s.DB().PingContext(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "connection and schema valid", Detail: dbPath}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.HomeDir == "" {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

// checkAgentCommands verifies every agent command referenced by
// cfg.Agents resolves on PATH, so a misconfigured command fails fast at
// doctor time instead of on the first spawn attempt.
func checkAgentCommands(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.Agents) == 0 {
		return CheckResult{Name: "Agent Commands", Status: "SKIP", Message: "no agents configured"}
	}
	var missing []string
	for name, ac := range cfg.Agents {
		if ac.Command == "" {
			missing = append(missing, name+" (no command)")
			continue
		}
		if _, err := exec.LookPath(ac.Command); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s not on PATH)", name, ac.Command))
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    "Agent Commands",
			Status:  "FAIL",
			Message: fmt.Sprintf("%d of %d agent commands unresolved", len(missing), len(cfg.Agents)),
			Detail:  fmt.Sprintf("%v", missing),
		}
	}
	return CheckResult{Name: "Agent Commands", Status: "PASS", Message: fmt.Sprintf("%d agent commands resolved", len(cfg.Agents))}
}

// checkConsumePort verifies the configured IPC port is free to bind,
// since the scheduler's own bind attempt happens much later at startup.
func checkConsumePort(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.ConsumePort == 0 {
		return CheckResult{Name: "Consume Port", Status: "SKIP", Message: "no consume_port configured"}
	}
	addr := net.JoinHostPort(cfg.BindAddr, fmt.Sprintf("%d", cfg.ConsumePort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return CheckResult{Name: "Consume Port", Status: "FAIL", Message: fmt.Sprintf("%s unavailable: %v", addr, err)}
	}
	ln.Close()
	return CheckResult{Name: "Consume Port", Status: "PASS", Message: fmt.Sprintf("%s is free", addr)}
}
