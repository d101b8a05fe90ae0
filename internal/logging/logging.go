// Package logging adapts zerolog to the pion logging interfaces so that the
// application and the pion stack write through one sink.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// Factory creates scoped leveled loggers backed by a zerolog.Logger.
type Factory struct {
	base zerolog.Logger
}

var _ logging.LoggerFactory = (*Factory)(nil)

// NewFactory wraps base. Each logger created from it carries a "module" field.
func NewFactory(base zerolog.Logger) *Factory {
	return &Factory{base: base}
}

// NewConsoleFactory writes human readable output to w at the given level.
func NewConsoleFactory(w io.Writer, level string) *Factory {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	base := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return NewFactory(base)
}

// Nop returns a factory that discards everything.
func Nop() *Factory {
	return NewFactory(zerolog.Nop())
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &Logger{zl: f.base.With().Str("module", scope).Logger()}
}

// Zerolog exposes the base logger for callers that want structured fields.
func (f *Factory) Zerolog() zerolog.Logger {
	return f.base
}

// Logger implements logging.LeveledLogger on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

func (l *Logger) Trace(msg string)                  { l.zl.Trace().Msg(msg) }
func (l *Logger) Tracef(format string, args ...any) { l.zl.Trace().Msgf(format, args...) }
func (l *Logger) Debug(msg string)                  { l.zl.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                   { l.zl.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                   { l.zl.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                  { l.zl.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Scoped returns a logger for scope, falling back to a discarding logger
// when factory is nil. Components call this from their constructors.
func Scoped(factory logging.LoggerFactory, scope string) logging.LeveledLogger {
	if factory == nil {
		return Nop().NewLogger(scope)
	}
	return factory.NewLogger(scope)
}
