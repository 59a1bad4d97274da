package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ashleyhindle/fuel/internal/store"
)

func runRetryCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fuel retry", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fuel retry <id>")
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
		fmt.Fprintf(os.Stderr, "retry: %v\n", err)
		return exitCodeForErr(err)
	}
	if err := tasks.Retry(ctx, resolved.ID); err != nil {
		fmt.Fprintf(os.Stderr, "retry: %v\n", err)
		return exitCodeForErr(err)
	}
	fmt.Println(resolved.ID)
	return 0
}
