package logger

import corelogger "github.com/kilianp07/wastedispatch/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards every message.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component. The output format is selected
// from the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
