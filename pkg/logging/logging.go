// Package logging is lymbo's ambient logging stack (SPEC_FULL.md §4.11):
// a subsystem-tagged, level-filtered logger over log/slog. Unlike the
// teacher's variant, which bridges slog through go-logr/controller-
// runtime for Kubernetes event correlation, lymbo has no cluster object
// to correlate against, so that binding is dropped in favor of slog's
// own handlers writing to stdout/stderr and, when a log file path is
// configured, additionally to it — the file-plus-console idea carried
// over from the original Python run's FileHandler+StreamHandler pair.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Level is lymbo's six-level severity scale (spec.md §4.11), wider than
// slog's four: NotSet and Critical are lymbo-specific synonyms that map
// onto slog's Debug and Error respectively.
type Level int

const (
	LevelNotSet Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// ParseLevel maps the six lowercase spec names onto a Level, defaulting
// to LevelInfo for anything unrecognized.
func ParseLevel(name string) Level {
	switch name {
	case "notset":
		return LevelNotSet
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelNotSet:
		return "NOTSET"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel maps the six-level scale onto slog's four levels: NotSet
// collapses to Debug (the most permissive) and Critical to Error (the
// most severe slog has).
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelNotSet, LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError, LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var defaultLogger *slog.Logger

// Init wires up the process-wide logger: always to output (stderr for
// the CLI), and additionally to logFile when non-empty, mirroring
// lymbo's original FileHandler+StreamHandler pair. json selects
// slog.JSONHandler over slog.TextHandler for machine-readable output.
func Init(level Level, output io.Writer, logFile string, json bool) (io.Closer, error) {
	dest := output
	var closer io.Closer = noopCloser{}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file %s: %w", logFile, err)
		}
		dest = io.MultiWriter(output, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: level.SlogLevel()}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(dest, opts)
	} else {
		handler = slog.NewTextHandler(dest, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return closer, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func logInternal(level Level, subsystem string, err error, messageFmt string, args ...any) {
	if defaultLogger == nil {
		defaultLogger = slog.Default()
	}
	if !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem), slog.String("level", level.String())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs at the debug level.
func Debug(subsystem, messageFmt string, args ...any) { logInternal(LevelDebug, subsystem, nil, messageFmt, args...) }

// Info logs at the info level.
func Info(subsystem, messageFmt string, args ...any) { logInternal(LevelInfo, subsystem, nil, messageFmt, args...) }

// Warn logs at the warning level.
func Warn(subsystem, messageFmt string, args ...any) {
	logInternal(LevelWarning, subsystem, nil, messageFmt, args...)
}

// Error logs at the error level, attaching err as a structured field.
func Error(subsystem string, err error, messageFmt string, args ...any) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// Critical logs at the critical level: an error severe enough to abort
// the run (shutdown-timeout, broker startup failure).
func Critical(subsystem string, err error, messageFmt string, args ...any) {
	logInternal(LevelCritical, subsystem, err, messageFmt, args...)
}

// Printf adapts the package's subsystem-tagged Info logger to the plain
// (format string, args...) shape internal/pipeline, internal/execpool,
// and internal/broker expect for their injected log functions.
func Printf(subsystem string) func(format string, args ...any) {
	return func(format string, args ...any) { Info(subsystem, format, args...) }
}
