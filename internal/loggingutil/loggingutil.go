// Package loggingutil supplies nil-safe defaults over pslog.
package loggingutil

import (
	"io"
	"sync"

	"pkt.systems/pslog"
)

var (
	noOnce   sync.Once
	noLogger pslog.Logger
)

// NoopLogger returns a disabled pslog.Logger that discards all entries.
func NoopLogger() pslog.Logger {
	noOnce.Do(func() {
		noLogger = pslog.NewWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
	return noLogger
}

// EnsureLogger returns l when non-nil, otherwise a disabled logger.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return NoopLogger()
}
