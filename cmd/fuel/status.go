package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ashleyhindle/fuel/internal/ipcproto"
)

// runStatusCommand dials the running consume loop's IPC port, subscribes,
// and prints the first snapshot it receives.
func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: fuel status")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ConsumePort)
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: no consume loop reachable at %s: %v\n", addr, err)
		return 1
	}
	defer conn.Close()

	sub, err := ipcproto.Encode(ipcproto.Message{Kind: ipcproto.KindSubscribe, Ts: time.Now().UTC()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	if _, err := conn.Write(sub); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := ipcproto.DecodeBroadcast([]byte(line))
		if msg.Kind != ipcproto.KindSnapshot {
			continue
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(msg.Fields)
		return 0
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "status: no snapshot received before timeout")
	}
	return 1
}
