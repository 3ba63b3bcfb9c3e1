// Package logging writes structured JSONL records for the simulator:
// one stream per server session plus a dedicated error log.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryRun       Category = "run"
	CategoryIteration Category = "iteration"
	CategoryNetwork   Category = "network"
	CategoryBrowser   Category = "browser"
	CategoryStream    Category = "stream"
	CategoryServer    Category = "server"
)

// Record is a single structured log line
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured records to the session and error logs
type Logger struct {
	mu        sync.Mutex
	runID     string
	mainFile  io.WriteCloser
	errorFile io.WriteCloser
	minLevel  Level
}

// NewLogger creates a logger rooted at baseDir, appending to
// botsim.jsonl and errors.jsonl.
func NewLogger(baseDir string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	mainFile, err := os.OpenFile(
		filepath.Join(baseDir, "botsim.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		mainFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		mainFile:  mainFile,
		errorFile: errorFile,
		minLevel:  LevelInfo,
	}, nil
}

// NewWriterLogger logs to a single writer; used in tests.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{
		mainFile: nopCloser{w},
		minLevel: LevelDebug,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetRunID tags subsequent records with the active run
func (l *Logger) SetRunID(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = runID
}

// Log writes a record to the appropriate destinations
func (l *Logger) Log(rec Record) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}
	if !l.shouldLog(rec.Level) {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')

	if l.mainFile != nil {
		if _, err := l.mainFile.Write(data); err != nil {
			return fmt.Errorf("failed to write log: %w", err)
		}
	}
	if rec.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write error log: %w", err)
		}
	}
	return nil
}

func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Debug logs a debug record
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) error {
	return l.log(LevelDebug, category, eventType, message, details)
}

// Info logs an info record
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.log(LevelInfo, category, eventType, message, details)
}

// Warn logs a warning record
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.log(LevelWarn, category, eventType, message, details)
}

// Error logs an error record
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.log(LevelError, category, eventType, message, details)
}

func (l *Logger) log(level Level, category Category, eventType, message string, details map[string]any) error {
	if l == nil {
		return nil
	}
	return l.Log(Record{
		Level:     level,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Close closes all log files
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.mainFile != nil {
		if err := l.mainFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}
