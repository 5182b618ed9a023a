package dapp

import (
	"github.com/advdv/dhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap logger configured from the environment. Uses JSON
// encoding; DHTTP_LOG_LEVEL controls the level (debug, info, warn, error).
func NewLogger(env Environment) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(env.logLevel())
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

type zapLogger struct{ *zap.Logger }

func (l zapLogger) LogRejection(err error) {
	l.Logger.Error("request rejected", zap.Error(err))
}

func (l zapLogger) LogSendFailure(err error) {
	l.Logger.Error("error while sending response", zap.Error(err))
}

func (l zapLogger) LogBrowserOpenError(err error) {
	l.Logger.Warn("failed to open browser", zap.Error(err))
}

func newZapDHTTPLogger(l *zap.Logger) dhttp.Logger {
	return zapLogger{l.Named("dhttp").Named("dapp")}
}
