package outparser

import "testing"

func TestFeedAssistantText(t *testing.T) {
	p := New()
	line := `{"type":"assistant","content":[{"type":"text","text":"hello"}]}` + "\n"
	events := p.Feed([]byte(line))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindText || events[0].Text != "hello" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestFeedToolCall(t *testing.T) {
	p := New()
	line := `{"type":"tool_call","shellToolCall":{"command":"ls"}}` + "\n"
	events := p.Feed([]byte(line))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != KindToolStart || events[0].ToolName != "Bash" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestFeedToolCallProgress(t *testing.T) {
	p := New()
	line := `{"type":"tool_call","subtype":"progress","readToolCall":{}}` + "\n"
	events := p.Feed([]byte(line))
	if events[0].Kind != KindToolProgress || events[0].ToolName != "Read" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestFeedOpaque(t *testing.T) {
	p := New()
	line := `{"type":"system","msg":"boot"}` + "\n"
	events := p.Feed([]byte(line))
	if events[0].Kind != KindOpaque {
		t.Fatalf("expected opaque event, got %+v", events[0])
	}
}

func TestFeedSkipsEmptyLines(t *testing.T) {
	p := New()
	events := p.Feed([]byte("\n\n"))
	if len(events) != 0 {
		t.Fatalf("expected no events for blank lines, got %d", len(events))
	}
}

func TestFeedBuffersPartialLine(t *testing.T) {
	p := New()
	events := p.Feed([]byte(`{"type":"assistant",`))
	if len(events) != 0 {
		t.Fatalf("expected no events yet, got %d", len(events))
	}
	events = p.Feed([]byte(`"content":[{"type":"text","text":"ok"}]}` + "\n"))
	if len(events) != 1 || events[0].Text != "ok" {
		t.Fatalf("expected reassembled event, got %+v", events)
	}
}

func TestFlushFinalPartialLine(t *testing.T) {
	p := New()
	p.Feed([]byte(`{"type":"assistant","content":[{"type":"text","text":"tail"}]}`))
	events := p.Flush()
	if len(events) != 1 || events[0].Text != "tail" {
		t.Fatalf("expected flushed final event, got %+v", events)
	}
}

func TestFlushEmptyBuffer(t *testing.T) {
	p := New()
	if events := p.Flush(); events != nil {
		t.Fatalf("expected nil, got %+v", events)
	}
}

func TestNonJSONLinePassesThroughOpaque(t *testing.T) {
	p := New()
	events := p.Feed([]byte("Session ID: abc123\n"))
	if len(events) != 1 || events[0].Kind != KindOpaque {
		t.Fatalf("expected opaque passthrough, got %+v", events)
	}
}
