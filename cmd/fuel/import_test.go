package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func setupImportTest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(minimalDoctorConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FUEL_HOME", home)
	return home
}

func TestRunImportCommand_ExtraArgsMissingPath(t *testing.T) {
	code := runImportCommand(context.Background(), nil)
	if code != 2 {
		t.Errorf("expected exit code 2 for missing --path, got %d", code)
	}
}

func TestRunImportCommand_MissingFile(t *testing.T) {
	setupImportTest(t)
	code := runImportCommand(context.Background(), []string{"--path", "/nonexistent/tasks.yaml"})
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestRunImportCommand_EmptyTaskList(t *testing.T) {
	setupImportTest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte("tasks: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 1 {
		t.Errorf("expected exit code 1 for empty task list, got %d", code)
	}
}

func TestRunImportCommand_ImportsTasks(t *testing.T) {
	setupImportTest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	content := `tasks:
  - title: fix the parser
    type: bug
    priority: 1
  - title: write docs
    type: docs
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestRunImportCommand_SkipsMissingTitle(t *testing.T) {
	setupImportTest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	content := `tasks:
  - description: no title here
  - title: has a title
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestRunImportCommand_InvalidYAML(t *testing.T) {
	setupImportTest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 1 {
		t.Errorf("expected exit code 1 for invalid YAML, got %d", code)
	}
}

func TestRunImportCommand_InvalidTypeRejected(t *testing.T) {
	setupImportTest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	content := `tasks:
  - title: bogus type
    type: not-a-real-type
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code == 0 {
		t.Error("expected a non-zero exit code for an invalid task type")
	}
}
