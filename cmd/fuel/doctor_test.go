package main

import (
	"context"
	"os"
	"testing"
)

const minimalDoctorConfig = "primary: worker\nagents:\n  worker:\n    command: /bin/true\n"

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FUEL_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalDoctorConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), nil)
	if code == 2 {
		t.Fatalf("unexpected exit code 2 (parse error)")
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FUEL_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalDoctorConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), []string{"-json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for JSON output", code)
	}
}

func TestRunDoctorCommand_DoubleDashJSON(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FUEL_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalDoctorConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), []string{"--json"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for --json", code)
	}
}

func TestRunDoctorCommand_NoConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FUEL_HOME", home)
	// No config.yaml at all — doctor should still run, just report FAIL.

	code := runDoctorCommand(context.Background(), nil)
	if code < 0 {
		t.Fatalf("unexpected negative exit code: %d", code)
	}
}
