package doctor

import (
	"context"
	"testing"

	"github.com/ashleyhindle/fuel/internal/config"
)

func TestCheckConfig_NilConfig(t *testing.T) {
	result := checkConfig(context.Background(), nil)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for nil config, got %s", result.Status)
	}
}

func TestCheckConfig_NoPrimary(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkConfig(context.Background(), cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL when primary is unset, got %s", result.Status)
	}
}

func TestCheckConfig_Pass(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir(), Primary: "worker"}
	result := checkConfig(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDatabase_OpensSchema(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkDatabase(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDatabase_NilConfig(t *testing.T) {
	result := checkDatabase(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for nil config, got %s", result.Status)
	}
}

func TestCheckPermissions_WritableHome(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	result := checkPermissions(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckAgentCommands_NoAgents(t *testing.T) {
	cfg := &config.Config{}
	result := checkAgentCommands(context.Background(), cfg)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP when no agents configured, got %s", result.Status)
	}
}

func TestCheckAgentCommands_ResolvesOnPath(t *testing.T) {
	cfg := &config.Config{
		Agents: map[string]config.AgentConfig{
			"worker": {Command: "sh"},
		},
	}
	result := checkAgentCommands(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS for a command on PATH, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckAgentCommands_MissingCommand(t *testing.T) {
	cfg := &config.Config{
		Agents: map[string]config.AgentConfig{
			"worker": {Command: "definitely-not-a-real-binary-xyz"},
		},
	}
	result := checkAgentCommands(context.Background(), cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for an unresolvable command, got %s", result.Status)
	}
}

func TestCheckConsumePort_NotConfigured(t *testing.T) {
	cfg := &config.Config{}
	result := checkConsumePort(context.Background(), cfg)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP when consume_port is unset, got %s", result.Status)
	}
}

func TestCheckConsumePort_FreePort(t *testing.T) {
	cfg := &config.Config{BindAddr: "127.0.0.1", ConsumePort: 18391}
	result := checkConsumePort(context.Background(), cfg)
	if result.Status != "PASS" {
		t.Fatalf("expected PASS for a free port, got %s: %s", result.Status, result.Message)
	}
}
