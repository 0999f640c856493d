// Package ulog wires the module's structured logging, the way
// github.com/go-delve/delve/pkg/logflags wires logrus for pkg/proc: a
// package-level logger plus cheap enabled-checks so hot paths (Cursor.Next)
// don't pay for building a log line that will be discarded.
package ulog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

var stackEnabled atomic.Bool

func init() {
	logger.SetLevel(logrus.WarnLevel)
}

// SetLogger replaces the package-level logger. Registry construction and
// Cursor stepping both log through the logger returned by L.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	logger = l
}

// L returns the package-level logger.
func L() *logrus.Logger { return logger }

// EnableStackLogging turns on the per-frame CFI tracing that Cursor.Next
// emits at Trace level. It is off by default because formatting a register
// dump on every step is wasted work for the overwhelming majority of
// callers (mirrors logflags.Stack()).
func EnableStackLogging(enabled bool) {
	stackEnabled.Store(enabled)
	if enabled && logger.Level < logrus.TraceLevel {
		logger.SetLevel(logrus.TraceLevel)
	}
}

// StackEnabled reports whether per-frame CFI tracing is enabled.
func StackEnabled() bool { return stackEnabled.Load() }
