// Package runlog is the run's leveled logger: every line timestamped and
// duplicated to stderr and the persistent run log.
package runlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	default:
		return LevelInfo
	}
}

// LogFile is the run log's name inside the run directory.
const LogFile = "run.log"

type Logger struct {
	level  Level
	logger *log.Logger
	closer io.Closer
}

// New opens run.log inside runDir and duplicates every line to stderr.
func New(runDir string, level Level) (*Logger, error) {
	logPath := filepath.Join(runDir, LogFile)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return NewWithWriter(io.MultiWriter(os.Stderr, f), f, level), nil
}

// NewWithWriter is the internal constructor used by tests.
func NewWithWriter(w io.Writer, closer io.Closer, level Level) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", 0),
		closer: closer,
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	levelStr := "INFO"
	switch level {
	case LevelDebug:
		levelStr = "DEBUG"
	case LevelWarn:
		levelStr = "WARN"
	case LevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
