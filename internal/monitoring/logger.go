package monitoring

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Log file rotation defaults.
const (
	logMaxSize   = 50 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
)

// NewRotatingLogf returns a Printf-style logger writing to a size-rotated
// file at path, plus the closer for the underlying file. The result is
// suitable for SetLogger.
func NewRotatingLogf(path string) (func(format string, v ...interface{}), func() error) {
	fileLog := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	l := log.New(fileLog, "", log.LstdFlags|log.Lmicroseconds)
	return l.Printf, fileLog.Close
}
