package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ashleyhindle/fuel/internal/tui"
)

// runWatchCommand opens the live terminal dashboard against the running
// consume loop's IPC port.
func runWatchCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: fuel watch")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ConsumePort)
	if err := tui.Run(ctx, addr); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}
