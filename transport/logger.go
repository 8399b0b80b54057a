package transport

import (
	"github.com/edaniels/golog"
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// LoggerFactory wraps a golog.Logger for use with pion's webrtc logging system.
type LoggerFactory struct {
	Logger golog.Logger
}

type pionLogger struct {
	logger golog.Logger
}

func (l pionLogger) loggerWithSkip() golog.Logger {
	return l.logger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func (l pionLogger) Trace(msg string) {
	l.loggerWithSkip().Debug(msg)
}

func (l pionLogger) Tracef(format string, args ...interface{}) {
	l.loggerWithSkip().Debugf(format, args...)
}

func (l pionLogger) Debug(msg string) {
	l.loggerWithSkip().Debug(msg)
}

func (l pionLogger) Debugf(format string, args ...interface{}) {
	l.loggerWithSkip().Debugf(format, args...)
}

func (l pionLogger) Info(msg string) {
	l.loggerWithSkip().Info(msg)
}

func (l pionLogger) Infof(format string, args ...interface{}) {
	l.loggerWithSkip().Infof(format, args...)
}

func (l pionLogger) Warn(msg string) {
	l.loggerWithSkip().Warn(msg)
}

func (l pionLogger) Warnf(format string, args ...interface{}) {
	l.loggerWithSkip().Warnf(format, args...)
}

func (l pionLogger) Error(msg string) {
	l.loggerWithSkip().Error(msg)
}

func (l pionLogger) Errorf(format string, args ...interface{}) {
	l.loggerWithSkip().Errorf(format, args...)
}

// NewLogger returns a new pion logger under the given scope.
func (lf LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{lf.Logger.Named(scope)}
}
