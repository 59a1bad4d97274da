package scheduler

import (
	"fmt"
	"strings"

	"github.com/ashleyhindle/fuel/internal/store"
)

// renderPrompt builds the prompt handed to a spawned agent process from
// a task's attributes. The template is fixed rather than configurable:
// §6.2's config keys don't enumerate a prompt-template override, so
// this mirrors the teacher's chatTaskPayload rendering (a fixed shape
// for one kind of unit of work) rather than inventing a new config
// surface.
func renderPrompt(t *store.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	if len(t.BlockedBy) > 0 {
		fmt.Fprintf(&b, "\nDepends on: %s\n", strings.Join(t.BlockedBy, ", "))
	}
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(t.Labels, ", "))
	}
	return b.String()
}
