package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	Level  string
	Format string    // text or json
	Output io.Writer // defaults to stderr
	Extra  io.Writer // optional second sink, always JSON (e.g. a log file)
}

// New builds the process logger. Records fan out to Output and, when set, Extra;
// both are wrapped in a CorrelationHandler.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var primary slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		primary = slog.NewJSONHandler(out, hopts)
	} else {
		primary = slog.NewTextHandler(out, hopts)
	}
	if opts.Extra == nil {
		return slog.New(NewCorrelationHandler(primary))
	}
	return slog.New(NewCorrelationHandler(slogmulti.Fanout(
		primary,
		slog.NewJSONHandler(opts.Extra, hopts),
	)))
}

// ParseLevel maps a level name to a slog level; unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Default returns a stderr text logger at info level.
func Default() *slog.Logger {
	return New(Options{})
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
