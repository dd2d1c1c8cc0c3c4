// Package logging provides structured, leveled logging for the transfer
// pipeline, wrapping zerolog with console formatting for interactive use
// and JSON formatting when stdout is not a terminal.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/transferpipe/core/internal/events"
)

// Logger wraps zerolog and, when given an event bus, mirrors every
// KindError event as a warn-level log line carrying the asset URI and
// stage name as structured fields.
type Logger struct {
	zlog   zerolog.Logger
	bus    *events.Bus
	output io.Writer
}

// NewLogger creates a logger writing to out. If out is a terminal,
// output is a human-readable colorized console format; otherwise it's
// newline-delimited JSON suitable for log aggregation. Pass bus to also
// mirror transfer errors into the log stream, or nil to skip that.
func NewLogger(out *os.File, bus *events.Bus) *Logger {
	var output io.Writer = out
	if term.IsTerminal(int(out.Fd())) {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	l := &Logger{
		zlog:   zerolog.New(output).With().Timestamp().Logger(),
		bus:    bus,
		output: output,
	}
	if bus != nil {
		go l.mirrorErrors(bus.SubscribeAll())
	}
	return l
}

// NewDefaultLogger creates a logger writing to stderr with no event mirroring.
func NewDefaultLogger() *Logger {
	return NewLogger(os.Stderr, nil)
}

func (l *Logger) mirrorErrors(ch <-chan events.Event) {
	for ev := range ch {
		if ev.Kind != events.KindError {
			continue
		}
		l.zlog.Warn().
			Str("stage", ev.Stage).
			Str("asset", ev.AssetURI).
			Err(ev.Err).
			Msg("transfer error")
	}
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context { return l.zlog.With() }

// Output returns the logger's current output writer.
func (l *Logger) Output() io.Writer { return l.output }

// SetVerbose toggles debug-level logging globally. The CLI calls it with
// the value of its --verbose flag.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
