package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/knot/internal/engine"
)

// NewLogger builds the slog logger described by cfg, writing to w.
func NewLogger(cfg Log, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// Options converts cfg into engine options.
//
// The returned release function closes any executor started for the
// scheduler section; call it after the knot has stopped.
func Options(cfg Config, logger *slog.Logger) ([]engine.Option, func()) {
	opts := []engine.Option{engine.WithName(cfg.Name)}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}

	var started []*engine.SerialExecutor
	executor := func(name string) engine.Executor {
		if name != ExecutorSerial {
			return nil
		}
		e := engine.NewSerialExecutor()
		started = append(started, e)
		return e
	}

	if e := executor(cfg.Scheduler.Observe); e != nil {
		opts = append(opts, engine.WithObserveOn(e))
	}
	if e := executor(cfg.Scheduler.Reduce); e != nil {
		opts = append(opts, engine.WithReduceOn(e))
	}

	release := func() {
		for _, e := range started {
			e.Close()
		}
	}
	return opts, release
}
