// Package hclog sets up structured logging for hookci on top of
// github.com/charmbracelet/log, used as an slog.Handler.
package hclog

import (
	"context"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

func NewHandler(name string, level charmlog.Level) slog.Handler {
	return charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           level,
	})
}

// defaultLevel is the level New constructs loggers at. SetLevel updates
// it once, from the pipeline configuration's log_level field, before any
// component logger is built; it's not meant to change mid-run.
var defaultLevel = charmlog.InfoLevel

// SetLevel sets the level future New calls construct loggers at
// (SubLogger keeps the level of a charmbracelet base logger and falls back
// to this level only for other bases). Call it once, right after the
// configuration is loaded and before constructing the driver/engine, so
// every component logger picks up the configured verbosity.
func SetLevel(level charmlog.Level) {
	defaultLevel = level
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name, defaultLevel))
}

func NewContext(ctx context.Context, name string) context.Context {
	return IntoContext(ctx, New(name))
}

type ctxKey struct{}

// IntoContext adds a logger to a context. Use FromContext to pull it back out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried on ctx, or the default slog logger
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if v := ctx.Value(ctxKey{}); v != nil {
			return v.(*slog.Logger)
		}
	}
	return slog.Default()
}

// SubLogger derives a new logger from base by appending suffix to its prefix,
// e.g. SubLogger(l, "docker") turns prefix "hookci" into "hookci/docker".
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	if cl, ok := base.Handler().(*charmlog.Logger); ok {
		prefix := cl.GetPrefix()
		if prefix != "" {
			prefix = prefix + "/" + suffix
		} else {
			prefix = suffix
		}
		return slog.New(NewHandler(prefix, cl.GetLevel()))
	}
	return slog.New(NewHandler(suffix, defaultLevel))
}

// LevelFor maps hookci's three-valued configuration log level onto the
// charmbracelet/log level used by NewHandler.
func LevelFor(configLevel string) charmlog.Level {
	switch configLevel {
	case "DEBUG":
		return charmlog.DebugLevel
	case "ERROR":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}
