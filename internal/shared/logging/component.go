package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logDirEnvVar = "COMPASS_LOG_DIR"

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
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

var (
	sinkOnce sync.Once
	sink     *log.Logger
	minLevel = LevelInfo
)

// SetLevel adjusts the process-wide minimum level. Safe to call before any
// component logger is created; later calls affect subsequent messages.
func SetLevel(l Level) { minLevel = l }

func sharedSink() *log.Logger {
	sinkOnce.Do(func() {
		out := os.Stderr
		if dir := os.Getenv(logDirEnvVar); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err == nil {
				path := filepath.Join(dir, "compass-server.log")
				if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
					out = f
				}
			}
		}
		sink = log.New(out, "", 0)
	})
	return sink
}

type componentLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a
// component name that prefixes every line.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (c *componentLogger) logf(level Level, tag, format string, args ...any) {
	if level < minLevel {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	sharedSink().Printf("%s [%s] [%s] %s", ts, tag, c.component, fmt.Sprintf(format, args...))
}

func (c *componentLogger) Debug(format string, args ...any) {
	c.logf(LevelDebug, "DEBUG", format, args...)
}

func (c *componentLogger) Info(format string, args ...any) {
	c.logf(LevelInfo, "INFO", format, args...)
}

func (c *componentLogger) Warn(format string, args ...any) {
	c.logf(LevelWarn, "WARN", format, args...)
}

func (c *componentLogger) Error(format string, args ...any) {
	c.logf(LevelError, "ERROR", format, args...)
}
