// Package logger defines the leveled logging surface used across the client,
// together with a zerolog-backed default implementation. Components receive a
// Logger through configuration rather than reaching for a global.
package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger accepts a message and alternating key/value args, in the manner of
// structured loggers.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ZeroLogger adapts a zerolog.Logger to the Logger interface.
type ZeroLogger struct {
	logger zerolog.Logger
}

// New returns a ZeroLogger writing JSON lines to w.
func New(w io.Writer) *ZeroLogger {
	return &ZeroLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// FromZerolog wraps an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{logger: l}
}

func (z *ZeroLogger) Error(msg string, args ...any) { emit(z.logger.Error(), msg, args) }
func (z *ZeroLogger) Warn(msg string, args ...any)  { emit(z.logger.Warn(), msg, args) }
func (z *ZeroLogger) Info(msg string, args ...any)  { emit(z.logger.Info(), msg, args) }
func (z *ZeroLogger) Debug(msg string, args ...any) { emit(z.logger.Debug(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

// Nop discards everything. Useful as a test default.
type Nop struct{}

func (Nop) Error(string, ...any) {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Info(string, ...any)  {}
func (Nop) Debug(string, ...any) {}
