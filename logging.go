package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelTrace:
		return "TRACE"
	}
	return "UNKNOWN"
}

// ParseLogLevel converts the --log-level flag value, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError
	case "warning":
		return LogLevelWarning
	case "debug":
		return LogLevelDebug
	case "trace":
		return LogLevelTrace
	}
	return LogLevelInfo
}

// Logger is the console logger for operational messages. Event output
// goes through the formatter, never through here.
type Logger struct {
	mu            sync.Mutex
	out           io.Writer
	level         LogLevel
	showTimestamp bool
}

func NewLogger(out io.Writer, level LogLevel, showTimestamp bool) *Logger {
	return &Logger{
		out:           out,
		level:         level,
		showTimestamp: showTimestamp,
	}
}

func (l *Logger) log(level LogLevel, component, format string, args ...interface{}) {
	if level > l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.showTimestamp {
		fmt.Fprintf(l.out, "%s %s [%s] %s\n",
			time.Now().Format("2006-01-02T15:04:05.000"), level, component, msg)
	} else {
		fmt.Fprintf(l.out, "%s [%s] %s\n", level, component, msg)
	}
}

func (l *Logger) Error(component, format string, args ...interface{}) {
	l.log(LogLevelError, component, format, args...)
}

func (l *Logger) Warning(component, format string, args ...interface{}) {
	l.log(LogLevelWarning, component, format, args...)
}

func (l *Logger) Info(component, format string, args ...interface{}) {
	l.log(LogLevelInfo, component, format, args...)
}

func (l *Logger) Debug(component, format string, args ...interface{}) {
	l.log(LogLevelDebug, component, format, args...)
}

func (l *Logger) Trace(component, format string, args ...interface{}) {
	l.log(LogLevelTrace, component, format, args...)
}
