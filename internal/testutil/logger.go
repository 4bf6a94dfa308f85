package testutil

import (
	"fmt"
	"sync"
)

// LogEntry is one record captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger is an etl.Logger that keeps every record for assertions.
type RecordingLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Count returns how many records at level carry msg.
func (l *RecordingLogger) Count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if e.Level == level && e.Msg == msg {
			n++
		}
	}
	return n
}

// String renders every record, one per line.
func (l *RecordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%s %s %v\n", e.Level, e.Msg, e.Args)
	}
	return s
}
