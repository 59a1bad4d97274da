// Package ipcproto implements the line-framed wire protocol for the IPC
// fan-out server (C4): one JSON record per newline, with embedded
// newlines in field values escaped so framing is never ambiguous.
package ipcproto

import (
	"encoding/json"
	"strings"
	"time"
)

// Kinds emitted by the supervisor to clients.
const (
	KindSnapshot      = "snapshot"
	KindTaskStarted   = "task_started"
	KindTaskCompleted = "task_completed"
	KindTaskFailed    = "task_failed"
	KindAgentBackoff  = "agent_backoff"
	KindShutdown      = "shutdown"
)

// Kinds accepted from clients.
const (
	KindPause     = "pause"
	KindResume    = "resume"
	KindRetry     = "retry"
	KindSubscribe = "subscribe"
	KindError     = "error"
)

var acceptedFromClient = map[string]bool{
	KindPause:     true,
	KindResume:    true,
	KindRetry:     true,
	KindSubscribe: true,
}

var emittedBySupervisor = map[string]bool{
	KindSnapshot:      true,
	KindTaskStarted:   true,
	KindTaskCompleted: true,
	KindTaskFailed:    true,
	KindAgentBackoff:  true,
	KindShutdown:      true,
}

// Message is the envelope shared by every line on the wire. Fields is the
// kind-specific payload, kept as a generic map so the codec need not know
// every message shape up front.
type Message struct {
	Kind     string         `json:"kind"`
	Ts       time.Time      `json:"ts"`
	ClientID string         `json:"client_id,omitempty"`
	Raw      string         `json:"raw,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Encode renders a Message as one newline-terminated line. Any embedded
// newline byte inside the JSON payload (which can only occur inside a
// string value) is escaped to "\\n" before the terminator is appended,
// guaranteeing the result contains exactly one '\n' byte: the
// terminator.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	// json.Marshal already escapes '\n' inside string values as \n
	// (two bytes, backslash+n), so body itself never contains a raw
	// newline byte. Guard defensively anyway: some callers may hand-build
	// Fields with values that bypass marshal (e.g. json.RawMessage holding
	// unescaped bytes), so re-escape any raw newline that slipped through.
	if bytesContainNewline(body) {
		body = []byte(strings.ReplaceAll(string(body), "\n", `\n`))
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

func bytesContainNewline(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			return true
		}
	}
	return false
}

// Decode parses one line (without its terminator) sent by a client into
// a Message. Empty lines should be skipped by the caller before calling
// Decode (poll() tolerates blank lines per spec §4.4). A decode
// failure, an empty kind, or any kind outside the set accepted from
// clients (§6.1: pause, resume, retry, subscribe) does not return an
// error to the caller in the usual sense — it returns a synthesized
// {kind:"error", raw} message, matching spec: a malformed or
// unrecognized line never closes the connection.
func Decode(clientID string, line []byte) Message {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil || m.Kind == "" || !acceptedFromClient[m.Kind] {
		return Message{
			Kind:     KindError,
			Ts:       time.Now().UTC(),
			ClientID: clientID,
			Raw:      string(line),
		}
	}
	m.ClientID = clientID
	return m
}

// DecodeBroadcast parses one line sent by the supervisor (the reverse
// direction of Decode) into a Message, for IPC clients like `fuel
// watch`/`fuel status` reading the snapshot/task_*/agent_backoff/
// shutdown stream. A decode failure, an empty kind, or any kind outside
// the set the supervisor emits becomes the same synthesized
// {kind:"error", raw} message.
func DecodeBroadcast(line []byte) Message {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil || m.Kind == "" || !emittedBySupervisor[m.Kind] {
		return Message{
			Kind: KindError,
			Ts:   time.Now().UTC(),
			Raw:  string(line),
		}
	}
	return m
}
