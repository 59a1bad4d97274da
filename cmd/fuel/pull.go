package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/config"
	"gopkg.in/yaml.v3"
)

// PullableAgent is the wire shape of an agent definition fetched by URL:
// the subset of config.AgentConfig a remote definition is allowed to set,
// plus the name it should be registered under.
type PullableAgent struct {
	Name          string            `yaml:"name"`
	Command       string            `yaml:"command"`
	PromptArgs    []string          `yaml:"prompt_args"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	Model         string            `yaml:"model"`
	ResumeArgs    []string          `yaml:"resume_args"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	MaxAttempts   int               `yaml:"max_attempts"`
	MaxRetries    int               `yaml:"max_retries"`
}

func runPullCommand(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, `usage: fuel pull <url>

Fetches an agent definition from a URL and adds it to config.yaml.

Examples:
  fuel pull https://gist.githubusercontent.com/user/abc/raw/agent.yaml
  fuel pull https://raw.githubusercontent.com/user/repo/main/agents/reviewer.yaml

Agent YAML format (minimum required: name and command):
  name: reviewer
  command: claude
  prompt_args: ["-p"]
  model: claude-sonnet-4-5   # optional
  max_concurrent: 2          # optional`)
		return 1
	}

	url := args[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		fmt.Fprintln(os.Stderr, "error: URL must start with http:// or https://")
		return 1
	}

	fmt.Printf("fetching %s...\n", url)
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to fetch: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: server returned %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
		return 1
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		fmt.Fprintln(os.Stderr, "error: URL returned HTML, not YAML. If using GitHub, use the 'Raw' URL.")
		return 1
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to read response: %v\n", err)
		return 1
	}

	var pulled PullableAgent
	if err := yaml.Unmarshal(body, &pulled); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid YAML: %v\n", err)
		return 1
	}
	if pulled.Name == "" {
		fmt.Fprintln(os.Stderr, "error: agent definition missing required 'name' field")
		return 1
	}
	if pulled.Command == "" {
		fmt.Fprintln(os.Stderr, "error: agent definition missing required 'command' field")
		return 1
	}

	agent := config.AgentConfig{
		Command:       pulled.Command,
		PromptArgs:    pulled.PromptArgs,
		Args:          pulled.Args,
		Env:           pulled.Env,
		ResumeArgs:    pulled.ResumeArgs,
		MaxConcurrent: pulled.MaxConcurrent,
		MaxAttempts:   pulled.MaxAttempts,
		MaxRetries:    pulled.MaxRetries,
	}
	if pulled.Model != "" {
		agent.Model = &pulled.Model
	}

	configPath := config.ConfigPath(config.HomeDir())
	if err := config.AppendAgent(configPath, pulled.Name, agent); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("installed agent %q\n", pulled.Name)
	fmt.Printf("  source: %s\n", url)
	fmt.Printf("  command: %s\n", pulled.Command)
	fmt.Println()
	fmt.Printf("restart fuel consume to pick up the new agent.\n")
	return 0
}
