// Package ops provides the structured logging surface used across the
// dispatch core. It wraps logrus so that call sites attach fields instead of
// formatting strings, matching the event log's "action=X k=v k=v..." shape.
package ops

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Logger publishes structured events. Production wires logrusLogger against
// os.Stderr; tests may swap in a recording implementation.
type Logger interface {
	WithFields(fields log.Fields) Logger
	Trace(msg string)
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// New returns a Logger backed by logrus, configured with the given level.
func New(level log.Level) Logger {
	var l = log.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(level)
	return &logrusLogger{entry: log.NewEntry(l)}
}

type logrusLogger struct {
	entry *log.Entry
}

func (l *logrusLogger) WithFields(fields log.Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}

func (l *logrusLogger) Trace(msg string) { l.entry.Trace(msg) }
func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l *logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }

// ParseLevel parses a level name, defaulting to Info on failure.
func ParseLevel(name string) log.Level {
	if name == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
