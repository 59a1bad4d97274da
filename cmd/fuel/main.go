// Command fuel is the CLI entrypoint: it runs the consume loop as a
// long-lived daemon, or dispatches one-shot subcommands that talk to
// the same on-disk store and IPC port.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/storeerr"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [args]

COMMANDS:
  consume               Run the scheduler loop until terminated (the daemon).
  add "<title>"         Create a task.
  done <id>             Mark a task closed. Flags: --reason, --commit.
  retry <id>            Return a failed-stuck task to open.
  status                Print one snapshot from the running consume loop.
  watch                 Open a live terminal dashboard (read-only).
  doctor                Run startup diagnostics. Flags: --json.
  import --path <file>  Bulk-create tasks from a YAML file.
  pull <url>            Fetch an agent definition and add it to config.yaml.

ENVIRONMENT:
  FUEL_HOME              Home directory (default: .fuel)
  FUEL_LOG_LEVEL         Overrides log_level from config.yaml
  FUEL_BIND_ADDR         Overrides bind_addr from config.yaml
  FUEL_CONSUME_PORT      Overrides consume_port from config.yaml
`, os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "consume":
		os.Exit(runConsumeCommand(ctx, rest))
	case "add":
		os.Exit(runAddCommand(ctx, rest))
	case "done":
		os.Exit(runDoneCommand(ctx, rest))
	case "retry":
		os.Exit(runRetryCommand(ctx, rest))
	case "status":
		os.Exit(runStatusCommand(ctx, rest))
	case "watch":
		os.Exit(runWatchCommand(ctx, rest))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, rest))
	case "import":
		os.Exit(runImportCommand(ctx, rest))
	case "pull":
		os.Exit(runPullCommand(rest))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

// fatalStartup prints a structured error and exits 1. It is used by
// subcommands that fail before a logger exists.
func fatalStartup(stage string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", stage, err)
	os.Exit(1)
}

// loadConfig resolves FUEL_HOME and loads config.yaml, the shared first
// step of every subcommand that touches the store or the scheduler.
func loadConfig() (config.Config, error) {
	return config.Load(config.HomeDir())
}

// exitCodeForErr maps a storeerr result variant to the exit codes in
// §6.4: 0 success (never reached here), 1 user error, 2 not found.
func exitCodeForErr(err error) int {
	if err == nil {
		return 0
	}
	switch err.(type) {
	case *storeerr.NotFound, *storeerr.Ambiguous:
		return 2
	default:
		return 1
	}
}
