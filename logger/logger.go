package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables all logging
	LevelNone
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
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level, falling back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is a leveled logger. Loggers derived with WithPrefix share the
// underlying writer and level.
type Logger struct {
	core   *core
	prefix string
}

type core struct {
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
	file   *os.File
}

// New creates a logger writing to w.
func New(level Level, w io.Writer, prefix string) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		core:   &core{level: level, logger: log.New(w, "", 0)},
		prefix: prefix,
	}
}

// Open creates a logger appending to the file at path, or writing to stderr
// when path is empty.
func Open(level Level, path string) (*Logger, error) {
	if path == "" {
		return New(level, os.Stderr, ""), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := New(level, file, "")
	l.core.file = file
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(LevelNone, io.Discard, "")
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}
	return &Logger{core: l.core, prefix: newPrefix}
}

func (l *Logger) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

func (l *Logger) Level() Level {
	l.core.mu.RLock()
	defer l.core.mu.RUnlock()
	return l.core.level
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.core.mu.RLock()
	defer l.core.mu.RUnlock()

	if level < l.core.level || l.core.level == LevelNone {
		return
	}

	prefix := ""
	if l.prefix != "" {
		prefix = "[" + l.prefix + "] "
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.core.logger.Printf("%s [%s] %s%s", timestamp, level, prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	if l.core.file != nil {
		err := l.core.file.Close()
		l.core.file = nil
		return err
	}
	return nil
}
