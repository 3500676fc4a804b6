package testutil

import (
	"sync"
)

// LogEntry is one captured log call.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log calls for assertions. It is safe for
// concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *RecordingLogger) record(level, msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Debug records a debug entry.
func (r *RecordingLogger) Debug(msg string, args ...any) { r.record("debug", msg, args) }

// Info records an info entry.
func (r *RecordingLogger) Info(msg string, args ...any) { r.record("info", msg, args) }

// Warn records a warn entry.
func (r *RecordingLogger) Warn(msg string, args ...any) { r.record("warn", msg, args) }

// Error records an error entry.
func (r *RecordingLogger) Error(msg string, args ...any) { r.record("error", msg, args) }

// Messages returns the messages logged at level, in order.
func (r *RecordingLogger) Messages(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Count returns how many entries carry msg.
func (r *RecordingLogger) Count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Msg == msg {
			n++
		}
	}
	return n
}
