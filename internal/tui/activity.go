package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// TaskEvent is one row in the feed: a task that started, and (once
// known) how it finished.
type TaskEvent struct {
	TaskID    string
	Agent     string
	Icon      string
	Message   string
	StartedAt time.Time
	DoneAt    *time.Time
}

// TaskFeed is a bounded, most-recent-first feed of task lifecycle
// events rendered by the watch dashboard.
type TaskFeed struct {
	mu        sync.Mutex
	items     []TaskEvent
	collapsed bool
	maxItems  int
}

func NewTaskFeed() *TaskFeed {
	return &TaskFeed{maxItems: 20, collapsed: true}
}

func (f *TaskFeed) Add(item TaskEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	if len(f.items) > f.maxItems {
		f.items = f.items[1:]
	}
	f.collapsed = false
}

// Complete marks the most recent unfinished event for taskID as done.
func (f *TaskFeed) Complete(taskID, icon, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].TaskID == taskID && f.items[i].DoneAt == nil {
			f.items[i].Icon = icon
			f.items[i].Message = message
			f.items[i].DoneAt = &now
			return
		}
	}
}

func (f *TaskFeed) Toggle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collapsed = !f.collapsed
}

func (f *TaskFeed) HasActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.DoneAt == nil {
			return true
		}
	}
	return false
}

func (f *TaskFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *TaskFeed) View() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	if f.collapsed {
		active := 0
		for _, it := range f.items {
			if it.DoneAt == nil {
				active++
			}
		}
		if active == 0 {
			return ""
		}
		return dim.Render(fmt.Sprintf("── %d task(s) running (ctrl+a to expand) ──", active)) + "\n"
	}

	itemS := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	durS := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var out strings.Builder
	out.WriteString(dim.Render("── tasks (ctrl+a to collapse) ──") + "\n")
	for _, it := range f.items {
		line := fmt.Sprintf("%s %s [%s]", it.Icon, it.Message, it.Agent)
		if it.DoneAt != nil {
			dur := it.DoneAt.Sub(it.StartedAt).Truncate(100 * time.Millisecond)
			line += durS.Render(fmt.Sprintf(" (%s)", dur))
		} else {
			line += durS.Render(fmt.Sprintf(" (%s)", time.Since(it.StartedAt).Truncate(time.Second)))
		}
		out.WriteString(itemS.Render(line) + "\n")
	}
	return out.String()
}
