// Package monitoring holds the process-wide diagnostic loggers used by the
// fitting pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Debugf output.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether Debugf output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only when verbose output is enabled.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// Stage logs the start of a named pipeline stage and returns a func that
// logs its elapsed time. Typical use is defer monitoring.Stage("pass 1")().
func Stage(name string) func() {
	start := time.Now()
	Debugf("[%s] start", name)
	return func() {
		Debugf("[%s] done in %s", name, time.Since(start).Round(time.Millisecond))
	}
}
