package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// Setup builds the process-wide logger and installs it as the default.
// format "json" writes zerolog JSON lines, "console" writes zerolog's
// human-readable console output and "slog" writes slog JSON records
// with stacktraces extracted by ErrFmtHandler.
func Setup(w io.Writer, level Level, format string) (Logger, error) {
	var logger Logger
	switch format {
	case "json", "":
		logger = NewZerologLogger(zerolog.New(w).With().Timestamp().Logger(), level)
	case "console":
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
		logger = NewZerologLogger(zerolog.New(cw).With().Timestamp().Logger(), level)
	case "slog":
		opts := &slog.HandlerOptions{AddSource: true, Level: slog.Level(level)}
		logger = NewSlogLogger(slog.New(WrapByErrFmtHandler(slog.NewJSONHandler(w, opts))))
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	SetLogger(logger)
	errors.SetZerologWarnFunc(func(w error) {
		logger.Warn("tracking warning", "warning", w)
	})
	return logger, nil
}
