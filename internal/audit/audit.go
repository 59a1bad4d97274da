// Package audit writes an append-only JSONL log of every task/epic/run
// status transition applied by the scheduler, for operator forensics
// independent of the store's own task_events table.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashleyhindle/fuel/internal/shared"
)

type entry struct {
	Timestamp  string `json:"timestamp"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
}

var (
	mu   sync.Mutex
	file *os.File
)

// Init opens (creating if necessary) .fuel/logs/audit.jsonl under homeDir.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Record appends one transition entry. Reason is redacted before
// persisting, mirroring internal/telemetry's log-line redaction.
func Record(entityType, entityID, fromStatus, toStatus, reason string) {
	reason = shared.Redact(reason)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	ev := entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		EntityType: entityType,
		EntityID:   entityID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Reason:     reason,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
