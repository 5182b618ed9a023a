package dhttp

import (
	"log"
	"sync/atomic"
	"testing"
)

// Logger can be implemented to get informed about important states.
type Logger interface {
	LogRejection(err error)
	LogSendFailure(err error)
	LogBrowserOpenError(err error)
}

type stdLogger struct{ *log.Logger }

func (l stdLogger) LogRejection(err error) {
	l.Logger.Printf("dhttp: request rejected: %s", err)
}

func (l stdLogger) LogSendFailure(err error) {
	l.Logger.Printf("dhttp: error while sending response: %s", err)
}

func (l stdLogger) LogBrowserOpenError(err error) {
	l.Logger.Printf("dhttp: failed to open browser: %s", err)
}

func NewStdLogger(l *log.Logger) Logger {
	return stdLogger{l}
}

type TestLogger struct {
	tb testing.TB

	NumLogRejection        int64
	NumLogSendFailure      int64
	NumLogBrowserOpenError int64
}

func NewTestLogger(tb testing.TB) *TestLogger {
	return &TestLogger{tb: tb}
}

func (l *TestLogger) LogRejection(err error) {
	atomic.AddInt64(&l.NumLogRejection, 1)
	l.tb.Logf("dhttp: request rejected: %s", err)
}

func (l *TestLogger) LogSendFailure(err error) {
	atomic.AddInt64(&l.NumLogSendFailure, 1)
	l.tb.Logf("dhttp: error while sending response: %s", err)
}

func (l *TestLogger) LogBrowserOpenError(err error) {
	atomic.AddInt64(&l.NumLogBrowserOpenError, 1)
	l.tb.Logf("dhttp: failed to open browser: %s", err)
}

var _ Logger = &TestLogger{}
