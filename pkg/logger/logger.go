package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Debug bool
}

// NewLogger builds the process-wide zap logger. Components receive it
// explicitly; there is no package-level global.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	c := zap.NewProductionConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		c.Development = true
	}
	return c.Build()
}

// NewTestLogger is a convenience for tests that want visible output on
// failure without configuring anything.
func NewTestLogger() *zap.Logger {
	l, err := NewLogger(&LoggerConfig{Debug: true})
	if err != nil {
		return zap.NewNop()
	}
	return l
}
