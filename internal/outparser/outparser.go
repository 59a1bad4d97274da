// Package outparser implements the streaming line-delimited event parser
// (C3): it buffers a trailing incomplete line and emits one structured
// Event per complete newline-terminated line written by a spawned agent.
package outparser

import (
	"bytes"
	"encoding/json"
)

// EventKind classifies a parsed line.
type EventKind string

const (
	KindText         EventKind = "text"
	KindToolStart    EventKind = "tool_start"
	KindToolProgress EventKind = "tool_progress"
	KindOpaque       EventKind = "opaque"
)

// Event is one structured unit extracted from an agent's output stream.
type Event struct {
	Kind     EventKind
	Text     string         // populated for KindText
	ToolName string         // populated for KindToolStart/KindToolProgress
	Raw      map[string]any // the decoded line, always populated
}

// toolNameByCall maps the raw tool-call keys seen on the wire to their
// canonical display name.
var toolNameByCall = map[string]string{
	"readToolCall":  "Read",
	"writeToolCall": "Write",
	"editToolCall":  "Edit",
	"shellToolCall": "Bash",
	"bashToolCall":  "Bash",
	"grepToolCall":  "Grep",
	"globToolCall":  "Glob",
}

// Parser is a restartable, pure-over-its-buffer line parser: feed it
// bytes as they arrive from a process's stdout and drain Events after
// each feed. It never blocks and holds only the trailing partial line.
type Parser struct {
	buf bytes.Buffer
}

// New returns an empty Parser.
func New() *Parser {
	return &Parser{}
}

// Feed appends newly read bytes and returns all complete-line Events
// found so far, retaining any trailing partial line in the buffer.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)

	var events []Event
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		p.buf.Next(idx + 1)
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush parses whatever is left in the buffer as a final, possibly
// incomplete, line and clears the buffer. Call this once the process
// has exited and no further bytes will arrive.
func (p *Parser) Flush() []Event {
	data := p.buf.Bytes()
	p.buf.Reset()
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if ev, ok := parseLine(data); ok {
		return []Event{ev}
	}
	return nil
}

func parseLine(line []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		// Non-JSON lines are still surfaced, classified opaque, so the
		// supervisor's session-id regex scan can run over them too.
		return Event{Kind: KindOpaque, Raw: map[string]any{"line": string(trimmed)}}, true
	}

	typ, _ := raw["type"].(string)
	switch typ {
	case "assistant":
		return Event{Kind: KindText, Text: firstTextContent(raw), Raw: raw}, true
	case "tool_call":
		name, kind := classifyToolCall(raw)
		return Event{Kind: kind, ToolName: name, Raw: raw}, true
	default:
		return Event{Kind: KindOpaque, Raw: raw}, true
	}
}

// firstTextContent extracts the first text content item from an
// assistant-type message, matching spec §4.3.
func firstTextContent(raw map[string]any) string {
	content, ok := raw["content"].([]any)
	if !ok {
		if s, ok := raw["text"].(string); ok {
			return s
		}
		return ""
	}
	for _, item := range content {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if m["type"] == "text" {
			if s, ok := m["text"].(string); ok {
				return s
			}
		}
	}
	return ""
}

// classifyToolCall derives the canonical tool name and whether this line
// is the tool call's start or a progress update, keyed off a `subtype`
// field on the line.
func classifyToolCall(raw map[string]any) (name string, kind EventKind) {
	kind = KindToolStart
	if sub, _ := raw["subtype"].(string); sub == "progress" {
		kind = KindToolProgress
	}
	for key, canonical := range toolNameByCall {
		if _, ok := raw[key]; ok {
			return canonical, kind
		}
	}
	if n, ok := raw["tool"].(string); ok {
		return n, kind
	}
	return "", kind
}
