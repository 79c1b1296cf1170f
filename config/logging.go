package config

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level: %q", s)
}

// levelOf classifies a log line by its tag. Untagged lines are info.
func levelOf(line []byte) Level {
	switch {
	case bytes.Contains(line, []byte("ERROR:")):
		return LevelError
	case bytes.Contains(line, []byte("WARN:")):
		return LevelWarn
	case bytes.Contains(line, []byte("DEBUG:")):
		return LevelDebug
	}
	return LevelInfo
}

// LevelWriter drops lines below Min before passing them to Out.
type LevelWriter struct {
	Out io.Writer
	Min Level
}

func (w *LevelWriter) Write(p []byte) (int, error) {
	if levelOf(p) < w.Min {
		return len(p), nil
	}
	return w.Out.Write(p)
}

// InitializeLogging sets up the standard logger based on config. Output
// goes to stdout and, when a file is configured, to a rotating log file
// whose closer is returned (nil otherwise).
func (c *Config) InitializeLogging() (io.Closer, error) {
	level, err := ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	var closer io.Closer
	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logWriter := &lumberjack.Logger{
			Filename:   c.Logging.File,
			MaxSize:    c.Logging.MaxSizeMB,     // megabytes
			MaxAge:     c.Logging.RetentionDays, // days
			MaxBackups: 3,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, logWriter)
		closer = logWriter
	}

	log.SetOutput(&LevelWriter{Out: out, Min: level})
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	return closer, nil
}
