// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelTrace is the severity of low-level tracing messages.
	LevelTrace Level = iota
	// LevelDebug is the severity of debug messages.
	LevelDebug
	// LevelInfo is the severity of informational messages.
	LevelInfo
	// LevelWarn is the severity of warnings.
	LevelWarn
	// LevelError is the severity of errors.
	LevelError
)

var levelNames = map[Level]string{
	LevelTrace: "trace",
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel parses a level name or a numeric verbosity. Numeric values
// count verbosity upwards: 0 is error only, 4 enables everything up to
// trace messages.
func ParseLevel(value string) (Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return LevelError, loggerError("invalid log verbosity %d", n)
		}
		if n > int(LevelError) {
			n = int(LevelError)
		}
		return LevelError - Level(n), nil
	}
	for l, name := range levelNames {
		if value == name {
			return l, nil
		}
	}
	if value == "warning" {
		return LevelWarn, nil
	}
	return LevelInfo, loggerError("invalid log level %q", value)
}

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Trace formats and emits a trace message.
	Trace(format string, args ...interface{})
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error messages, and panics with the same.
	Panic(format string, args ...interface{})
	// Println emits an informational message. It makes Logger usable as
	// an error logger for promhttp.
	Println(v ...interface{})

	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// TraceEnabled checks if trace messages are enabled for this Logger.
	TraceEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
	// SlogHandler returns a handler for using this Logger as a slog backend.
	SlogHandler() slog.Handler
}

type logger struct {
	source string
}

type logging struct {
	sync.RWMutex
	level   Level
	dbgmap  srcmap
	prefix  bool
	loggers map[string]logger
	exit    func(int)
}

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		loggers: make(map[string]logger),
		exit:    os.Exit,
	}
	deflog = log.get("default")
)

// Get returns the named Logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the global logging severity threshold.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// GetLevel returns the global logging severity threshold.
func GetLevel() Level {
	log.RLock()
	defer log.RUnlock()
	return log.level
}

// EnableDebug enables or disables debugging for the given source.
func EnableDebug(source string, enabled bool) {
	log.Lock()
	defer log.Unlock()
	log.dbgmap[source] = enabled
}

func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}
	lg := logger{source: source}
	l.loggers[source] = lg
	return lg
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
}

func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()

	if l.level <= LevelDebug {
		return true
	}
	if enabled, ok := l.dbgmap[source]; ok {
		return enabled
	}
	return l.dbgmap["*"]
}

func (l *logging) enabled(level Level) bool {
	l.RLock()
	defer l.RUnlock()
	return l.level <= level
}

func (l *logging) format(source, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)

	l.RLock()
	prefix := l.prefix
	l.RUnlock()

	if prefix {
		return "[" + source + "] " + msg
	}
	return msg
}

func (lg logger) Trace(format string, args ...interface{}) {
	if !lg.TraceEnabled() {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, "T: "+format, args...))
}

func (lg logger) Debug(format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, "D: "+format, args...))
}

func (lg logger) Info(format string, args ...interface{}) {
	if !log.enabled(LevelInfo) {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Warn(format string, args ...interface{}) {
	if !log.enabled(LevelWarn) {
		return
	}
	klog.WarningDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Warnf(format string, args ...interface{}) {
	if !log.enabled(LevelWarn) {
		return
	}
	klog.WarningDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Fatal(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, format, args...))
	klog.Flush()
	log.exit(1)
}

func (lg logger) Panic(format string, args ...interface{}) {
	msg := log.format(lg.source, format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (lg logger) Println(v ...interface{}) {
	if !log.enabled(LevelInfo) {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, "%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n")))
}

func (lg logger) DebugEnabled() bool {
	return log.debugEnabled(lg.source)
}

func (lg logger) TraceEnabled() bool {
	return log.enabled(LevelTrace)
}

func (lg logger) Source() string {
	return lg.source
}

// Flush flushes any buffered log messages.
func Flush() {
	klog.Flush()
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
