package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ashleyhindle/fuel/internal/store"
)

func runDoneCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fuel done", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	reason := fs.String("reason", "", "completion reason")
	commit := fs.String("commit", "", "commit hash")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fuel done <id> [--reason=R] [--commit=HASH]")
		return 2
	}
	id := fs.Args()[0]

	cfg, err := loadConfig()
	if err != nil {
		fatalStartup("config load", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		fatalStartup("store open", err)
	}
	defer s.Close()

	tasks := store.NewTaskRepo(s)
	resolved, err := tasks.Find(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "done: %v\n", err)
		return exitCodeForErr(err)
	}
	if err := tasks.Done(ctx, resolved.ID, *reason, *commit); err != nil {
		fmt.Fprintf(os.Stderr, "done: %v\n", err)
		return exitCodeForErr(err)
	}
	fmt.Println(resolved.ID)
	return 0
}
