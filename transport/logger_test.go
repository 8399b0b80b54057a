package transport

import (
	"testing"

	"github.com/edaniels/golog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

func TestLoggerFactory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var logger golog.Logger = zap.New(core).Sugar()

	pionLogger := LoggerFactory{Logger: logger}.NewLogger("ice")
	pionLogger.Trace("trace")
	pionLogger.Debugf("debug %d", 1)
	pionLogger.Infof("info %s", "two")
	pionLogger.Warn("warn")
	pionLogger.Errorf("error %v", 3)

	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 5)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "ice")
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, entries[1].Message, test.ShouldEqual, "debug 1")
	test.That(t, entries[2].Message, test.ShouldEqual, "info two")
	test.That(t, entries[3].Level, test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, entries[4].Message, test.ShouldEqual, "error 3")
}
