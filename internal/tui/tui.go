// Package tui implements `fuel watch`: a read-only terminal dashboard
// that dials the IPC server (§6.1) as a plain subscribe client and
// renders the snapshot/task_started/task_completed/task_failed stream
// it receives. It never sends pause/resume/retry — those are left to
// dedicated CLI subcommands — so watch can never perturb the tick loop
// it's observing.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashleyhindle/fuel/internal/ipcproto"
)

type connectedMsg struct{ conn net.Conn }
type ipcMsg struct{ msg ipcproto.Message }
type connErrMsg struct{ err error }
type reconnectMsg struct{}

type model struct {
	addr string
	conn net.Conn

	feed   *TaskFeed
	lines  <-chan ipcproto.Message
	errs   <-chan error

	readyDepth   int
	clientCount  int
	paused       bool
	agentBackoff map[string]any

	lastErr string
	started time.Time
}

func newModel(addr string) model {
	return model{
		addr:    addr,
		feed:    NewTaskFeed(),
		started: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return connectCmd(m.addr)
}

func connectCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return connErrMsg{err: err}
		}
		sub, err := ipcproto.Encode(ipcproto.Message{Kind: ipcproto.KindSubscribe, Ts: time.Now().UTC()})
		if err != nil {
			return connErrMsg{err: err}
		}
		if _, err := conn.Write(sub); err != nil {
			return connErrMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func waitForMsg(lines <-chan ipcproto.Message, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg, ok := <-lines:
			if !ok {
				return connErrMsg{err: fmt.Errorf("connection closed")}
			}
			return ipcMsg{msg: msg}
		case err := <-errs:
			return connErrMsg{err: err}
		}
	}
}

func readLoop(conn net.Conn) (<-chan ipcproto.Message, <-chan error) {
	lines := make(chan ipcproto.Message, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			lines <- ipcproto.DecodeBroadcast([]byte(line))
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		} else {
			errs <- fmt.Errorf("server disconnected")
		}
	}()
	return lines, errs
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		case "ctrl+a":
			m.feed.Toggle()
		}
	case connectedMsg:
		m.conn = msg.conn
		m.lastErr = ""
		m.lines, m.errs = readLoop(msg.conn)
		return m, waitForMsg(m.lines, m.errs)
	case connErrMsg:
		m.lastErr = msg.err.Error()
		if m.conn != nil {
			_ = m.conn.Close()
			m.conn = nil
		}
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })
	case reconnectMsg:
		return m, connectCmd(m.addr)
	case ipcMsg:
		m.apply(msg.msg)
		return m, waitForMsg(m.lines, m.errs)
	}
	return m, nil
}

func (m *model) apply(msg ipcproto.Message) {
	switch msg.Kind {
	case ipcproto.KindSnapshot:
		if v, ok := msg.Fields["ready_depth"].(float64); ok {
			m.readyDepth = int(v)
		}
		if v, ok := msg.Fields["client_count"].(float64); ok {
			m.clientCount = int(v)
		}
		if v, ok := msg.Fields["paused"].(bool); ok {
			m.paused = v
		}
		if v, ok := msg.Fields["agent_backoff"].(map[string]any); ok {
			m.agentBackoff = v
		}
	case ipcproto.KindTaskStarted:
		taskID, _ := msg.Fields["task_id"].(string)
		agent, _ := msg.Fields["agent"].(string)
		m.feed.Add(TaskEvent{TaskID: taskID, Agent: agent, Icon: "▶", Message: taskID, StartedAt: time.Now()})
	case ipcproto.KindTaskCompleted:
		taskID, _ := msg.Fields["task_id"].(string)
		m.feed.Complete(taskID, "✓", taskID+" completed")
	case ipcproto.KindTaskFailed:
		taskID, _ := msg.Fields["task_id"].(string)
		reason, _ := msg.Fields["reason"].(string)
		label := taskID + " failed"
		if reason != "" {
			label += " (" + reason + ")"
		}
		m.feed.Complete(taskID, "✗", label)
	case ipcproto.KindError:
		m.lastErr = humanError(fmt.Errorf("malformed server message: %s", msg.Raw))
	}
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Render("fuel watch")
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warn := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	status := "connected"
	if m.conn == nil {
		status = "reconnecting…"
	}
	pauseLabel := "running"
	if m.paused {
		pauseLabel = "paused"
	}

	var b strings.Builder
	uptime := time.Since(m.started).Truncate(time.Second)
	fmt.Fprintf(&b, "%s  %s  %s\n\n", title, dim.Render(status), dim.Render(uptime.String()))
	fmt.Fprintf(&b, "ready queue depth : %d\n", m.readyDepth)
	fmt.Fprintf(&b, "connected clients : %d\n", m.clientCount)
	fmt.Fprintf(&b, "consume state     : %s\n", pauseLabel)

	if len(m.agentBackoff) > 0 {
		names := make([]string, 0, len(m.agentBackoff))
		for name := range m.agentBackoff {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nagent backoff:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %v\n", name, m.agentBackoff[name])
		}
	}

	b.WriteString("\n")
	b.WriteString(m.feed.View())

	if m.lastErr != "" {
		fmt.Fprintf(&b, "\n%s\n", warn.Render("error: "+m.lastErr))
	}

	b.WriteString(dim.Render("\nq: quit   ctrl+a: toggle task feed\n"))
	return b.String()
}

// Run starts the watch dashboard, dialing addr as an IPC client and
// blocking until ctx is canceled or the user quits.
func Run(ctx context.Context, addr string) error {
	defer bestEffortResetTTY()

	m := newModel(addr)
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
