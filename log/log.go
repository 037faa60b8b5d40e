// Package log implements a wrapper around the Go standard library's
// logging package. Clients should set the current log level; only
// messages below that level will actually be logged. For example, if
// Level is set to LevelWarning, only log messages at the Warning,
// Error, and Critical levels will be logged.
package log

import (
	"flag"
	"fmt"
	"io"
	golog "log"
	"os"
	"sync"
)

// The following constants represent logging levels in increasing levels of seriousness.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	LevelFatal
)

var levelPrefix = [...]string{
	LevelDebug:    "[DEBUG] ",
	LevelInfo:     "[INFO] ",
	LevelWarning:  "[WARNING] ",
	LevelError:    "[ERROR] ",
	LevelCritical: "[CRITICAL] ",
	LevelFatal:    "[FATAL] ",
}

// Level stores the current logging level.
var Level = LevelInfo

// SyslogWriter specifies the necessary methods for an alternate output
// destination passed in via SetLogger.
//
// SyslogWriter is satisfied by *syslog.Writer.
type SyslogWriter interface {
	Debug(string) error
	Info(string) error
	Warning(string) error
	Err(string) error
	Crit(string) error
	Emerg(string) error
}

var (
	mu       sync.Mutex
	syslogW  SyslogWriter
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
	stdFlags           = golog.LstdFlags
)

// SetLogger sets the output used for output by this package. A nil
// writer restores the standard streams.
func SetLogger(w SyslogWriter) {
	mu.Lock()
	syslogW = w
	mu.Unlock()
}

// SetOutput sends every level to w instead of stdout and stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	stdout, stderr = w, w
	mu.Unlock()
}

// RegisterFlags binds the log level to the -loglevel flag of f.
func RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&Level, "loglevel", LevelInfo, "Log level (0 = DEBUG, 5 = FATAL)")
}

func print(l int, msg string) {
	if l < Level {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	if syslogW != nil {
		var err error
		switch l {
		case LevelDebug:
			err = syslogW.Debug(msg)
		case LevelInfo:
			err = syslogW.Info(msg)
		case LevelWarning:
			err = syslogW.Warning(msg)
		case LevelError:
			err = syslogW.Err(msg)
		case LevelCritical:
			err = syslogW.Crit(msg)
		case LevelFatal:
			err = syslogW.Emerg(msg)
		}
		if err == nil {
			return
		}
	}

	w := stdout
	if l > LevelWarning {
		w = stderr
	}
	golog.New(w, "", stdFlags).Print(levelPrefix[l], msg)
}

func outputf(l int, format string, v []interface{}) {
	if l >= Level {
		print(l, fmt.Sprintf(format, v...))
	}
}

func output(l int, v []interface{}) {
	if l >= Level {
		print(l, fmt.Sprint(v...))
	}
}

// Fatalf logs a formatted message at the "fatal" level and then exits. The
// arguments are handled in the same manner as fmt.Printf.
func Fatalf(format string, v ...interface{}) {
	outputf(LevelFatal, format, v)
	os.Exit(1)
}

// Fatal logs its arguments at the "fatal" level and then exits.
func Fatal(v ...interface{}) {
	output(LevelFatal, v)
	os.Exit(1)
}

// Criticalf logs a formatted message at the "critical" level. The
// arguments are handled in the same manner as fmt.Printf.
func Criticalf(format string, v ...interface{}) {
	outputf(LevelCritical, format, v)
}

// Critical logs its arguments at the "critical" level.
func Critical(v ...interface{}) {
	output(LevelCritical, v)
}

// Errorf logs a formatted message at the "error" level. The arguments
// are handled in the same manner as fmt.Printf.
func Errorf(format string, v ...interface{}) {
	outputf(LevelError, format, v)
}

// Error logs its arguments at the "error" level.
func Error(v ...interface{}) {
	output(LevelError, v)
}

// Warningf logs a formatted message at the "warning" level. The
// arguments are handled in the same manner as fmt.Printf.
func Warningf(format string, v ...interface{}) {
	outputf(LevelWarning, format, v)
}

// Warning logs its arguments at the "warning" level.
func Warning(v ...interface{}) {
	output(LevelWarning, v)
}

// Infof logs a formatted message at the "info" level. The arguments
// are handled in the same manner as fmt.Printf.
func Infof(format string, v ...interface{}) {
	outputf(LevelInfo, format, v)
}

// Info logs its arguments at the "info" level.
func Info(v ...interface{}) {
	output(LevelInfo, v)
}

// Debugf logs a formatted message at the "debug" level. The arguments
// are handled in the same manner as fmt.Printf.
func Debugf(format string, v ...interface{}) {
	outputf(LevelDebug, format, v)
}

// Debug logs its arguments at the "debug" level.
func Debug(v ...interface{}) {
	output(LevelDebug, v)
}
