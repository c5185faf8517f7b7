// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging is a thin leveled wrapper over log/slog, matching the
// call shape used throughout this module: package-level Info/Warn/Error/
// Debug for the common case, and WithComponent/WithError for the
// subsystems that want a tagged, chainable logger.
package logging

import (
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLevel adjusts the minimum level of the package-wide logger. Intended
// for the host application's own startup wiring, never called from
// within the telemetry event loop itself.
func SetLevel(level slog.Level) {
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Debug(msg string, kv ...any) { base.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { base.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { base.Warn(msg, kv...) }
func Error(msg string, kv ...any) { base.Error(msg, kv...) }

// Logger is a component-tagged, optionally error-tagged logger returned
// by WithComponent for chaining at call sites that want context attached
// to every line without repeating key/value pairs.
type Logger struct {
	l *slog.Logger
}

// WithComponent returns a Logger that tags every line with component=name.
func WithComponent(name string) *Logger {
	return &Logger{l: base.With("component", name)}
}

// WithError returns a Logger with err attached, or the receiver unchanged
// if err is nil.
func (lg *Logger) WithError(err error) *Logger {
	if err == nil {
		return lg
	}
	return &Logger{l: lg.l.With("error", err.Error())}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }
