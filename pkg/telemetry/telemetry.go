// Package telemetry wraps zerolog behind the component-scoped logging calls
// the rest of this module uses, so every call site names the component it
// logs from without constructing a sub-logger by hand.
package telemetry

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	base  zerolog.Logger
	once  sync.Once
	level atomic.Int32 // zerolog.Level, defaults to InfoLevel
)

func init() {
	level.Store(int32(zerolog.InfoLevel))
}

func root() zerolog.Logger {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		base = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
	return base.Level(zerolog.Level(level.Load()))
}

// SetOutput redirects all subsequent log output; used by tests that want to
// assert on emitted records instead of writing to stderr.
func SetOutput(w io.Writer) {
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the minimum level emitted process-wide.
func SetLevel(l zerolog.Level) {
	level.Store(int32(l))
}

// Fields is a shorthand for structured key/value pairs attached to one
// log line. nil and empty are both accepted.
type Fields map[string]any

func withFields(e *zerolog.Event, fields Fields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// DebugCF logs at debug level, scoped to a component.
func DebugCF(component, msg string, fields Fields) {
	withFields(root().Debug().Str("component", component), fields).Msg(msg)
}

// InfoCF logs at info level, scoped to a component.
func InfoCF(component, msg string, fields Fields) {
	withFields(root().Info().Str("component", component), fields).Msg(msg)
}

// WarnCF logs at warn level, scoped to a component. err may be nil.
func WarnCF(component, msg string, err error, fields Fields) {
	e := root().Warn().Str("component", component)
	if err != nil {
		e = e.Err(err)
	}
	withFields(e, fields).Msg(msg)
}

// ErrorCF logs at error level, scoped to a component, attaching err.
func ErrorCF(component, msg string, err error, fields Fields) {
	withFields(root().Error().Str("component", component).Err(err), fields).Msg(msg)
}
