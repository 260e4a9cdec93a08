package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// CallLog represents a single dispatched action
type CallLog struct {
	Timestamp  time.Time `json:"timestamp"`
	CallID     string    `json:"call_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Action     string    `json:"action"`
	Route      string    `json:"route"`
	Peer       string    `json:"peer,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
}

// Logger handles call logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console io.Writer
}

var defaultLogger = &Logger{enabled: true, console: os.Stdout}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the JSON-lines log file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enabled {
		if l.console == nil {
			l.console = os.Stdout
		}
		return
	}
	l.console = nil
}

// SetConsoleWriter redirects console output to w
func (l *Logger) SetConsoleWriter(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

// SetEnabled turns call logging on or off
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes a call log entry
func (l *Logger) Log(entry *CallLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Console output (human-readable)
	if l.console != nil {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		peer := ""
		if entry.Peer != "" {
			peer = " -> " + entry.Peer
		}
		timeout := ""
		if entry.TimedOut {
			timeout = " [timeout]"
		}
		fmt.Fprintf(l.console, "[call] %s %s %s (%s%s) %dms%s\n",
			status, entry.CallID, entry.Action, entry.Route, peer, entry.DurationMs, timeout)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[call]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
