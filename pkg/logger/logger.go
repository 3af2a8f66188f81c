package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Service string
	Env     string
	Level   string
}

// New builds a JSON slog logger tagged with service and environment.
func New(opts Options) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	})

	log := slog.New(h).With(
		"service", opts.Service,
		"env", opts.Env,
	)
	slog.SetDefault(log)
	return log
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
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
