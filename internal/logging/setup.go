package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps debug/info/warn/error to an slog.Level. Unknown values
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the process logger: text to stderr and, when logFile is set,
// JSON lines to that file. Both outputs carry correlation attributes.
// The returned func closes the log file.
func Setup(level slog.Level, logFile string) (*slog.Logger, func() error, error) {
	if logFile == "" {
		return SetupWithWriters(level, os.Stderr, nil), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return SetupWithWriters(level, os.Stderr, f), f.Close, nil
}

// SetupWithWriters is Setup with explicit writers. A nil jsonOut disables the
// JSON output.
func SetupWithWriters(level slog.Level, textOut, jsonOut io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(textOut, opts)
	if jsonOut != nil {
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(jsonOut, opts))
	}
	return slog.New(NewCorrelationHandler(handler))
}
