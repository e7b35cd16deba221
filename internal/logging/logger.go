// Package logging provides structured logging for the Creel core.
//
// It is a thin façade over logrus with a JSON formatter so that log output
// stays machine-parseable for the desktop shell. Call sites pass an optional
// field map; errors are attached under the "error" key.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	global *logrus.Logger
	once   sync.Once
	mu     sync.Mutex
)

// Init initializes the global logger. Subsequent calls are no-ops.
func Init(out io.Writer, minLevel Level) {
	once.Do(func() {
		global = newLogger(out, minLevel)
	})
}

// Reconfigure replaces the global logger output and level. Used by tests and
// by main after the config file has been read.
func Reconfigure(out io.Writer, minLevel Level) {
	Init(out, minLevel)
	mu.Lock()
	defer mu.Unlock()
	global.SetOutput(out)
	global.SetLevel(parseLevel(minLevel))
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	Init(os.Stdout, LevelInfo)
	return global
}

func newLogger(out io.Writer, minLevel Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(parseLevel(minLevel))
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return l
}

func parseLevel(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// entry merges optional field maps into a single logrus entry.
func entry(fields ...map[string]interface{}) *logrus.Entry {
	if len(fields) == 0 {
		return logrus.NewEntry(Get())
	}
	merged := make(logrus.Fields)
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	return Get().WithFields(merged)
}

// Debug logs a debug message.
func Debug(message string, fields ...map[string]interface{}) {
	entry(fields...).Debug(message)
}

// Info logs an info message.
func Info(message string, fields ...map[string]interface{}) {
	entry(fields...).Info(message)
}

// Warn logs a warning message.
func Warn(message string, fields ...map[string]interface{}) {
	entry(fields...).Warn(message)
}

// Error logs an error message with the cause attached under "error".
func Error(message string, err error, fields ...map[string]interface{}) {
	e := entry(fields...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}
