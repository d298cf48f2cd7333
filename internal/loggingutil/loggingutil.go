// Package loggingutil gives every CORE and CLI component a consistent way
// to obtain a pslog.Logger that is never nil and to tag its entries with a
// dot-delimited subsystem path ("lock.coordinator", "lock.reservation",
// "cli.root", ...) the way goldilock's own log lines are meant to read.
package loggingutil

import (
	"io"
	"sync"

	"pkt.systems/pslog"
)

var (
	noopLogger = sync.OnceValue(func() pslog.Logger {
		return pslog.NewWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
	noopBase = sync.OnceValue(func() pslog.Base {
		return pslog.NewBaseLoggerWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
)

// NoopLogger returns a shared, disabled pslog.Logger that discards every
// entry written to it.
func NoopLogger() pslog.Logger {
	return noopLogger()
}

// EnsureLogger returns l, or NoopLogger() when l is nil, so callers never
// need a nil check before logging.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return NoopLogger()
}

// NoopBase returns a shared, disabled pslog.Base.
func NoopBase() pslog.Base {
	return noopBase()
}

// EnsureBase returns b, or NoopBase() when b is nil.
func EnsureBase(b pslog.Base) pslog.Base {
	if b != nil {
		return b
	}
	return NoopBase()
}
