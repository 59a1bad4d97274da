package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ashleyhindle/fuel/internal/store"
)

func runAddCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fuel add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	taskType := fs.String("type", "", "task type: bug|feature|task|epic|chore|docs|test")
	priority := fs.Int("priority", -1, "priority 0..4")
	size := fs.String("size", "", "size: xs|s|m|l|xl")
	complexity := fs.String("complexity", "", "complexity: trivial|simple|moderate|complex")
	epicID := fs.String("epic", "", "owning epic id")
	description := fs.String("description", "", "task description")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, `usage: fuel add "<title>" [--type=T] [--priority=N] [--size=S] [--complexity=C] [--epic=ID] [--description=D]`)
		return 2
	}
	title := strings.TrimSpace(fs.Args()[0])

	cfg, err := loadConfig()
	if err != nil {
		fatalStartup("config load", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		fatalStartup("store open", err)
	}
	defer s.Close()

	in := store.TaskInput{Title: &title}
	if *taskType != "" {
		in.Type = taskType
	}
	if *priority >= 0 {
		in.Priority = priority
	}
	if *size != "" {
		in.Size = size
	}
	if *complexity != "" {
		in.Complexity = complexity
	}
	if *epicID != "" {
		in.EpicID = epicID
	}
	if *description != "" {
		in.Description = description
	}

	t, err := store.NewTaskRepo(s).Create(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "add: %v\n", err)
		return exitCodeForErr(err)
	}
	fmt.Println(t.ID)
	return 0
}
