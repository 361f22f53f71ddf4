package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how the process logger is built.
type Options struct {
	Level   string
	JSON    bool
	Service string
}

// New creates a slog logger configured with the provided level.
func New(level string) *slog.Logger {
	return NewWithOptions(os.Stdout, Options{Level: level})
}

// NewWithOptions builds a text or JSON logger writing to w and tags every
// record with the service name when one is set.
func NewWithOptions(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	return log
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TokenPreview shortens a device token so logs never carry the full value.
func TokenPreview(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
