// Package agentlog provides the agent's structured logger, a thin
// wrapper over logrus configured with a text formatter, full
// timestamps and a level from configuration; one shared instance is
// handed to every component instead of each package creating its own.
package agentlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the agent-wide structured logger. Safe for concurrent use
// by multiple goroutines (logrus guarantees this); never called from
// signal-handler context (spec §7 "the signal path never... logging
// from the signal path").
type Logger struct {
	*logrus.Logger
}

// New builds a Logger writing to w at the given level name ("debug",
// "info", "warn", "error"); an unrecognized level falls back to info.
func New(w io.Writer, level string) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Logger{Logger: l}
}

// Default returns a Logger writing to stderr at info level, for use
// where no configured log level is available.
func Default() *Logger {
	return New(os.Stderr, "info")
}

// WithComponent returns an entry tagged with component, scoping log
// lines to the subsystem that emitted them.
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}
