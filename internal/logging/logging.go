// Package logging provides global logging functions for dbma.
// Use dot import to access L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	logger *log.Logger
	once   sync.Once
)

// Config holds logging configuration
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: false,
	}
}

// Init initializes the global logger. Safe to call multiple times.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}
		if cfg.TimeFormat == "" {
			cfg.TimeFormat = "15:04:05"
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      cfg.TimeFormat,
			ReportCaller:    cfg.ShowCaller,
			CallerOffset:    2, // skip logMsg -> L_* frames
		})
		logger.SetLevel(charmLevel(cfg.Level))
	})
}

// SetLevel changes the log level at runtime
func SetLevel(level int) {
	ensureInit()
	logger.SetLevel(charmLevel(level))
}

// ParseLevel maps a level name ("debug", "info", ...) to a level constant.
// Unknown names fall back to info.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func charmLevel(level int) log.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError, LevelFatal:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// hasFmtVerb reports whether msg contains a printf-style verb
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' && s[i+1] != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(s[i+1])) {
			return true
		}
	}
	return false
}

// logMsg handles the flexible logging format:
// - logMsg(level, "message") -> simple
// - logMsg(level, "value is %d", 42) -> printf
// - logMsg(level, "loaded", "key", val, ...) -> structured
func logMsg(level log.Level, msg string, args ...interface{}) {
	ensureInit()

	var keyvals []interface{}
	if len(args) > 0 {
		if hasFmtVerb(msg) {
			msg = fmt.Sprintf(msg, args...)
		} else {
			keyvals = args
		}
	}

	switch level {
	case log.DebugLevel:
		logger.Debug(msg, keyvals...)
	case log.WarnLevel:
		logger.Warn(msg, keyvals...)
	case log.ErrorLevel:
		logger.Error(msg, keyvals...)
	case log.FatalLevel:
		logger.Fatal(msg, keyvals...)
	default:
		logger.Info(msg, keyvals...)
	}
}

// L_trace logs at trace level (mapped to debug)
func L_trace(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_debug logs at debug level
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// L_fatal logs at fatal level and exits
func L_fatal(msg string, args ...interface{}) {
	logMsg(log.FatalLevel, msg, args...)
}

// L_elapsed logs at info level with elapsed time since start
func L_elapsed(start time.Time, msg string, args ...interface{}) {
	args = append(args, "elapsed", time.Since(start).Round(time.Millisecond).String())
	logMsg(log.InfoLevel, msg, args...)
}
