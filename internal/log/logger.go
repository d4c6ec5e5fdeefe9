// Package log provides a global logger with configurable logging level. The bridge daemon and the
// command-line tools share it so that BLE traffic and MQTT publishing can be traced with -debug.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var globalLogLevel = LevelInfo
var output io.Writer = os.Stderr
var logMutex sync.Mutex

var labels = map[Level]string{
	LevelDebug:   "[debug]",
	LevelInfo:    "[info ]",
	LevelWarning: "[warn ]",
	LevelError:   "[error]",
}

var levelNames = map[string]Level{
	"none":    LevelNone,
	"off":     LevelNone,
	"error":   LevelError,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

// ParseLevel converts a level name such as "debug" or "warn" into a Level.
func ParseLevel(name string) (Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level, nil
	}
	return LevelNone, fmt.Errorf("unknown log level '%s'", name)
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
}

// SetOutput redirects log messages to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	output = w
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLogLevel
}

func log(level Level, format string, a ...interface{}) {
	if level <= logLevel() {
		msg := fmt.Sprintf("%s %s ", time.Now().Format(time.RFC3339), labels[level])
		msg += fmt.Sprintf(format, a...)
		logMutex.Lock()
		fmt.Fprintln(output, msg)
		logMutex.Unlock()
	}
}

func Debug(format string, a ...interface{}) {
	log(LevelDebug, format, a...)
}
func Info(format string, a ...interface{}) {
	log(LevelInfo, format, a...)
}
func Warning(format string, a ...interface{}) {
	log(LevelWarning, format, a...)
}
func Error(format string, a ...interface{}) {
	log(LevelError, format, a...)
}
