package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPullAgentYAML = `name: reviewer
command: claude
prompt_args: ["-p"]
max_concurrent: 3
`

func setupPullTest(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("FUEL_HOME", tmpDir)
	return tmpDir
}

func TestRunPullCommand_Valid(t *testing.T) {
	tmpDir := setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(validPullAgentYAML))
	}))
	defer srv.Close()

	if code := runPullCommand([]string{srv.URL}); code != 0 {
		t.Fatalf("exit %d", code)
	}
	data, _ := os.ReadFile(filepath.Join(tmpDir, "config.yaml"))
	if !strings.Contains(string(data), "reviewer") {
		t.Fatal("config missing reviewer agent")
	}
}

func TestRunPullCommand_MissingName(t *testing.T) {
	setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("command: claude\n"))
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for missing name")
	}
}

func TestRunPullCommand_MissingCommand(t *testing.T) {
	setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name: nameless\n"))
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for missing command")
	}
}

func TestRunPullCommand_DuplicateName(t *testing.T) {
	tmpDir := setupPullTest(t)
	os.WriteFile(filepath.Join(tmpDir, "config.yaml"),
		[]byte("primary: existing\nagents:\n  existing:\n    command: claude\n"), 0o644)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("name: existing\ncommand: claude\n"))
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for duplicate name")
	}
}

func TestRunPullCommand_HTTP404(t *testing.T) {
	setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for 404")
	}
}

func TestRunPullCommand_HTMLResponse(t *testing.T) {
	setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not yaml</html>"))
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for HTML")
	}
}

func TestRunPullCommand_InvalidYAML(t *testing.T) {
	setupPullTest(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{{{{not yaml"))
	}))
	defer srv.Close()
	if code := runPullCommand([]string{srv.URL}); code == 0 {
		t.Fatal("should fail for invalid YAML")
	}
}

func TestRunPullCommand_NoArgs(t *testing.T) {
	if code := runPullCommand(nil); code == 0 {
		t.Fatal("should fail with no args")
	}
}

func TestRunPullCommand_InvalidURL(t *testing.T) {
	setupPullTest(t)
	if code := runPullCommand([]string{"not-a-url"}); code == 0 {
		t.Fatal("should fail for invalid URL")
	}
}

func TestRunPullCommand_ModelPreserved(t *testing.T) {
	tmpDir := setupPullTest(t)
	yaml := `name: modeled
command: claude
model: claude-sonnet-4-5
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(yaml))
	}))
	defer srv.Close()

	if code := runPullCommand([]string{srv.URL}); code != 0 {
		t.Fatalf("exit %d", code)
	}
	data, _ := os.ReadFile(filepath.Join(tmpDir, "config.yaml"))
	content := string(data)
	if !strings.Contains(content, "claude-sonnet-4-5") {
		t.Fatal("model not preserved")
	}
}
