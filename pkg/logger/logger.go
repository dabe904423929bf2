package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface used across the codebase.
// Fields are alternating key/value pairs, zap sugared style.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

// New builds the process logger. format is "json" (default) or "console";
// unknown levels fall back to info.
func New(level, format string) Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	if format == "console" {
		config.Encoding = "console"
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	zl, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &zapLogger{logger: zl.Sugar()}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop().Sugar()}
}

func (l *zapLogger) Info(msg string, fields ...interface{}) { l.logger.Infow(msg, fields...) }

func (l *zapLogger) Error(msg string, fields ...interface{}) { l.logger.Errorw(msg, fields...) }

func (l *zapLogger) Warn(msg string, fields ...interface{}) { l.logger.Warnw(msg, fields...) }

func (l *zapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debugw(msg, fields...) }

func (l *zapLogger) Fatal(msg string, fields ...interface{}) { l.logger.Fatalw(msg, fields...) }

func (l *zapLogger) With(fields ...interface{}) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}
