// Package logging constructs the process-wide structured logger. There is
// no package-level global: the logger is built once at startup and
// threaded through the aggregator, pipeline stages, and recovery
// truncator via constructor injection.
package logging

import (
	"log/slog"
	"os"
)

// Format selects the slog handler used for output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures the logger returned by New.
type Options struct {
	Format Format
	Level  slog.Level
}

// New builds a *slog.Logger writing to stderr, so stdout stays free for
// command output (e.g. `chainidx height`, `chainidx hash`).
func New(opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

// Stage returns a logger scoped to a single pipeline stage, so
// interleaved stage output stays attributable to its source.
func Stage(base *slog.Logger, name string) *slog.Logger {
	return base.With(slog.Group("stage", slog.String("name", name)))
}
