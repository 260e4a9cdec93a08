package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"debug", "INFO", "warning", "error", ""} {
		if _, err := ParseLevel(in); err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInitStructuredTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitStructuredTo(&buf, "json", "debug")
	t.Cleanup(func() { InitStructured("text", "info") })

	OpWithTrace("trace-1", "span-1").Debug("dispatched", "action", "helloworld/sample")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if rec["trace_id"] != "trace-1" || rec["span_id"] != "span-1" || rec["action"] != "helloworld/sample" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLogger_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	l := &Logger{enabled: true}
	l.SetConsoleWriter(&console)

	path := filepath.Join(t.TempDir(), "calls.jsonl")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}

	l.Log(&CallLog{CallID: "c1", Action: "helloworld/sample", Route: "remote", Peer: "localhost:9000", DurationMs: 3, Error: "boom"})
	l.Close()

	if !strings.Contains(console.String(), "✗ c1 helloworld/sample (remote -> localhost:9000) 3ms") {
		t.Fatalf("unexpected console output %q", console.String())
	}
	if !strings.Contains(console.String(), "error: boom") {
		t.Fatalf("expected error line in %q", console.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry CallLog
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("decode log file: %v", err)
	}
	if entry.CallID != "c1" || entry.Timestamp.IsZero() {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestLogger_Disabled(t *testing.T) {
	var console bytes.Buffer
	l := &Logger{}
	l.SetConsoleWriter(&console)
	l.Log(&CallLog{CallID: "c1"})
	if console.Len() != 0 {
		t.Fatalf("expected no output, got %q", console.String())
	}
}
