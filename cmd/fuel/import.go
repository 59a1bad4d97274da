package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashleyhindle/fuel/internal/store"
)

// importTask is one entry in an import YAML file: the subset of
// store.TaskInput an import file is allowed to set, as plain (non-pointer)
// fields so omitted keys decode to the zero value rather than needing a
// caller-side nil/non-nil distinction.
type importTask struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Type        string   `yaml:"type"`
	Priority    *int     `yaml:"priority"`
	Size        string   `yaml:"size"`
	Complexity  string   `yaml:"complexity"`
	Labels      []string `yaml:"labels"`
	EpicID      string   `yaml:"epic"`
}

type importFile struct {
	Tasks []importTask `yaml:"tasks"`
}

// runImportCommand bulk-creates tasks from a YAML file: a list of tasks
// under a top-level `tasks:` key, each with the same fields `fuel add`
// accepts. Invalid entries are skipped and reported; a valid entry that
// fails to persist aborts the run, since any that follow may reference
// its epic.
func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fuel import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "path to a YAML file of tasks")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: fuel import --path <file>")
		return 2
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return 1
	}
	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		fmt.Fprintf(os.Stderr, "import: invalid YAML: %v\n", err)
		return 1
	}
	if len(file.Tasks) == 0 {
		fmt.Fprintln(os.Stderr, "import: no tasks found under the top-level 'tasks' key")
		return 1
	}

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

	imported, skipped := 0, 0
	for i, t := range file.Tasks {
		if t.Title == "" {
			fmt.Fprintf(os.Stderr, "import: skipping entry %d: missing title\n", i)
			skipped++
			continue
		}
		in := store.TaskInput{Title: &t.Title}
		if t.Description != "" {
			in.Description = &t.Description
		}
		if t.Type != "" {
			in.Type = &t.Type
		}
		if t.Priority != nil {
			in.Priority = t.Priority
		}
		if t.Size != "" {
			in.Size = &t.Size
		}
		if t.Complexity != "" {
			in.Complexity = &t.Complexity
		}
		if len(t.Labels) > 0 {
			in.Labels = t.Labels
		}
		if t.EpicID != "" {
			in.EpicID = &t.EpicID
		}

		created, err := tasks.Create(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "import: entry %d (%q): %v\n", i, t.Title, err)
			return exitCodeForErr(err)
		}
		fmt.Println(created.ID)
		imported++
	}

	fmt.Fprintf(os.Stderr, "imported %d task(s), skipped %d\n", imported, skipped)
	return 0
}
