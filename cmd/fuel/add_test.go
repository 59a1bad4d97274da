package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func setupCLITest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(minimalDoctorConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FUEL_HOME", home)
	return home
}

func TestRunAddCommand_MissingTitle(t *testing.T) {
	setupCLITest(t)
	if code := runAddCommand(context.Background(), nil); code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunAddCommand_CreatesTask(t *testing.T) {
	setupCLITest(t)
	code := runAddCommand(context.Background(), []string{"fix the bug"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunAddCommand_InvalidType(t *testing.T) {
	setupCLITest(t)
	code := runAddCommand(context.Background(), []string{"--type=not-real", "a task"})
	if code == 0 {
		t.Fatal("expected a non-zero exit code for an invalid type")
	}
}
