// Package logger defines the logging contract used across the SDK and a
// zerolog-backed default implementation. Components take a Logger rather
// than logging through a package-level global, so embedders can route SDK
// logs into their own logging setup.
package logger

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Logger accepts a message and alternating key/value pairs, slog style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Zerolog adapts a zerolog.Logger to the Logger interface.
type Zerolog struct {
	l zerolog.Logger
}

// New returns a Logger writing structured JSON lines to w with timestamps.
func New(w io.Writer) *Zerolog {
	return &Zerolog{l: zerolog.New(w).With().Timestamp().Logger()}
}

// FromZerolog wraps an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{l: l}
}

func (z *Zerolog) Debug(msg string, args ...any) { emit(z.l.Debug(), msg, args) }
func (z *Zerolog) Info(msg string, args ...any)  { emit(z.l.Info(), msg, args) }
func (z *Zerolog) Warn(msg string, args ...any)  { emit(z.l.Warn(), msg, args) }
func (z *Zerolog) Error(msg string, args ...any) { emit(z.l.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		ev = ev.Interface(fmt.Sprint(args[i]), args[i+1])
	}
	// An odd trailing argument is a programming error; surface it rather
	// than dropping it.
	if len(args)%2 != 0 {
		ev = ev.Interface("!BADKEY", args[len(args)-1])
	}
	ev.Msg(msg)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop returns a Logger that discards everything. It is the default for
// components constructed without an explicit logger.
func Nop() Logger { return nop{} }
