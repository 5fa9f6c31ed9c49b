// Package logging provides structured JSON logging for the balance engine.
// One Logger is created at startup and handed to each component with
// WithComponent, so every entry carries the component that produced it.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a flag value ("debug", "info", "warn", "error") to a Level.
// Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields carries structured key/value pairs on a log entry.
type Fields map[string]any

// Logger writes level-filtered JSON entries. Derived loggers from WithFields
// and WithComponent share the root's output and level.
type Logger struct {
	core *core
	base Fields
}

type core struct {
	mu      sync.Mutex
	level   Level
	output  io.Writer
	service string
}

type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Service   string    `json:"service"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
	Error     string    `json:"error,omitempty"`
	File      string    `json:"file,omitempty"`
	Line      int       `json:"line,omitempty"`
}

// New creates a Logger writing to stdout.
func New(service string, level Level) *Logger {
	return &Logger{core: &core{
		level:   level,
		output:  os.Stdout,
		service: service,
	}}
}

// Nop returns a logger that discards everything. Handy default for tests
// and for components constructed without an explicit logger.
func Nop() *Logger {
	return &Logger{core: &core{
		level:   LevelError + 1,
		output:  io.Discard,
		service: "nop",
	}}
}

// SetOutput redirects log output (tests capture entries this way).
func (l *Logger) SetOutput(w io.Writer) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.output = w
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

// WithComponent returns a Logger whose entries carry a component field.
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithFields(Fields{"component": name})
}

// WithFields returns a Logger that merges the given fields into every entry.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{core: l.core, base: merged}
}

func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields, nil) }
func (l *Logger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields, nil) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields, nil) }

// Error logs a message together with the error that caused it.
func (l *Logger) Error(msg string, fields Fields, err error) {
	l.log(LevelError, msg, fields, err)
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.core.mu.Lock()
	min := l.core.level
	l.core.mu.Unlock()
	if level < min {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Service:   l.core.service,
		Message:   msg,
		Fields:    l.mergeBase(fields),
	}

	if err != nil {
		e.Error = err.Error()
	}
	if level >= LevelError {
		if _, file, line, ok := runtime.Caller(2); ok {
			e.File = file
			e.Line = line
		}
	}

	data, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %v\n",
			e.Timestamp.Format(time.RFC3339), e.Level, msg, fields)
		return
	}

	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.output.Write(data)
	l.core.output.Write([]byte("\n"))
}

func (l *Logger) mergeBase(fields Fields) Fields {
	if len(l.base) == 0 {
		return fields
	}
	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
