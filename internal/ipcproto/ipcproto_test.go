package ipcproto

import (
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{
		Kind: KindSnapshot,
		Ts:   time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Fields: map[string]any{
			"running": float64(2),
			"note":    "line one\nline two",
		},
	}
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(string(encoded), "\n") != 1 {
		t.Fatalf("expected exactly one newline byte, got %d in %q", strings.Count(string(encoded), "\n"), encoded)
	}
	if encoded[len(encoded)-1] != '\n' {
		t.Fatal("expected terminator at end")
	}

	// Snapshot is emitted by the supervisor, so it roundtrips through
	// DecodeBroadcast (the client-facing decode), not Decode (which only
	// accepts the kinds a client may send).
	line := encoded[:len(encoded)-1]
	decoded := DecodeBroadcast(line)
	if decoded.Kind != KindSnapshot {
		t.Fatalf("decoded.Kind = %q, want %q", decoded.Kind, KindSnapshot)
	}
	if decoded.Fields["note"] != "line one\nline two" {
		t.Fatalf("decoded field mismatch: %+v", decoded.Fields)
	}
}

func TestDecodeMalformedBecomesError(t *testing.T) {
	decoded := Decode("client-2", []byte("not json at all"))
	if decoded.Kind != KindError {
		t.Fatalf("expected error kind, got %q", decoded.Kind)
	}
	if decoded.ClientID != "client-2" {
		t.Fatalf("expected client id set, got %q", decoded.ClientID)
	}
	if decoded.Raw != "not json at all" {
		t.Fatalf("expected raw preserved, got %q", decoded.Raw)
	}
}

func TestDecodeMissingKindBecomesError(t *testing.T) {
	decoded := Decode("c", []byte(`{"foo":"bar"}`))
	if decoded.Kind != KindError {
		t.Fatalf("expected error kind for missing kind field, got %q", decoded.Kind)
	}
}

func TestDecodeUnrecognizedKindBecomesError(t *testing.T) {
	decoded := Decode("c", []byte(`{"kind":"frobnicate"}`))
	if decoded.Kind != KindError {
		t.Fatalf("expected error kind for unrecognized kind, got %q", decoded.Kind)
	}
}

func TestDecodeServerKindIsRejectedFromClient(t *testing.T) {
	// A client has no business sending a supervisor-emitted kind; Decode
	// (the server-side, from-client decoder) must reject it too.
	decoded := Decode("c", []byte(`{"kind":"snapshot"}`))
	if decoded.Kind != KindError {
		t.Fatalf("expected error kind for a supervisor-only kind sent by a client, got %q", decoded.Kind)
	}
}

func TestDecodeBroadcastUnrecognizedKindBecomesError(t *testing.T) {
	decoded := DecodeBroadcast([]byte(`{"kind":"frobnicate"}`))
	if decoded.Kind != KindError {
		t.Fatalf("expected error kind for unrecognized kind, got %q", decoded.Kind)
	}
}

func TestDecodeBroadcastAcceptsSupervisorKinds(t *testing.T) {
	for _, kind := range []string{KindSnapshot, KindTaskStarted, KindTaskCompleted, KindTaskFailed, KindAgentBackoff, KindShutdown} {
		m := Message{Kind: kind, Ts: time.Now().UTC()}
		encoded, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", kind, err)
		}
		decoded := DecodeBroadcast(encoded[:len(encoded)-1])
		if decoded.Kind != kind {
			t.Fatalf("roundtrip kind mismatch: got %q want %q", decoded.Kind, kind)
		}
	}
}

func TestDecodeClientCommands(t *testing.T) {
	for _, kind := range []string{KindPause, KindResume, KindRetry, KindSubscribe} {
		m := Message{Kind: kind, Ts: time.Now().UTC()}
		encoded, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", kind, err)
		}
		decoded := Decode("c", encoded[:len(encoded)-1])
		if decoded.Kind != kind {
			t.Fatalf("roundtrip kind mismatch: got %q want %q", decoded.Kind, kind)
		}
	}
}
