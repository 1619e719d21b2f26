package util

import (
	"go.uber.org/zap"
)

// Log levels
const (
	// LevelError only
	LevelError = 1
	// LevelWarning and error
	LevelWarning = 2
	// LevelInfo, warning and error
	LevelInfo = 3
	// All
	LevelTrace = 4
)

var base, _ = newBaseLogger()
var logger = base.Sugar()
var logLevel = LevelInfo

// newBaseLogger builds zap's production logger with its level opened down
// to debug, so that trace output is gated by logLevel alone.
func newBaseLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return cfg.Build()
}

// SetLogLevel sets log level
func SetLogLevel(level int) {
	if level < LevelError {
		level = LevelError
	}
	if level > LevelTrace {
		level = LevelTrace
	}

	logLevel = level
}

// SetLogger swaps the underlying zap logger, letting a caller plug in its
// own encoder/sink config instead of the default production one.
func SetLogger(l *zap.Logger) {
	base = l
	logger = l.Sugar()
}

// WriteLog writes a log entry if its level is at or below logLevel, otherwise
// it's ignored. format/v follow Printf conventions, same as the teacher's
// stdlib-backed version, so call sites don't need to change when swapping
// the backend.
func WriteLog(level int, format string, v ...interface{}) {
	if level > logLevel {
		return
	}
	switch level {
	case LevelError:
		logger.Errorf(format, v...)
	case LevelWarning:
		logger.Warnf(format, v...)
	case LevelInfo:
		logger.Infof(format, v...)
	default:
		logger.Debugf(format, v...)
	}
}

// WriteError writes an error log
func WriteError(format string, v ...interface{}) {
	WriteLog(LevelError, format, v...)
}

// WriteWarning writes a warning log
func WriteWarning(format string, v ...interface{}) {
	WriteLog(LevelWarning, format, v...)
}

// WriteInfo writes a information
func WriteInfo(format string, v ...interface{}) {
	WriteLog(LevelInfo, format, v...)
}

// WriteTrace writes traces and debug information
func WriteTrace(format string, v ...interface{}) {
	WriteLog(LevelTrace, format, v...)
}

// Panicf is equivalent to Errorf() followed by a call to panic().
func Panicf(format string, v ...interface{}) {
	logger.Panicf(format, v...)
}

// Panicln is equivalent to Error() followed by a call to panic().
func Panicln(v ...interface{}) {
	logger.Panic(v...)
}

// Scoped returns a SugaredLogger annotated with the given key/value pairs,
// used by pkg/raft to tag every line with group/peer identity the way the
// original prefixes log lines with "node <group_id>:<server_id>".
func Scoped(keyValues ...interface{}) *zap.SugaredLogger {
	return logger.With(keyValues...)
}
