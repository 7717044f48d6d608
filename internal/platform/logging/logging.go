package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/animus-labs/ailab/internal/platform/env"
)

// New builds the process JSON logger. The level comes from AILAB_LOG_LEVEL.
func New(service string) (*slog.Logger, error) {
	level, err := ParseLevel(env.String("AILAB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	return NewWithWriter(os.Stdout, service, level), nil
}

func NewWithWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	if strings.TrimSpace(service) != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard lets components accept a nil logger.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid AILAB_LOG_LEVEL %q", value)
	}
}
