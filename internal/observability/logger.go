// Package observability builds the diagnostic logger. Diagnostic output is
// developer-facing only and never part of the report stream.
package observability

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig selects the diagnostic channel's shape.
type LoggerConfig struct {
	Verbose bool   `yaml:"verbose"`
	Level   string `yaml:"log_level"`
	Format  string `yaml:"log_format"` // "console" or "json"
}

// NewLogger returns a zap logger writing to stderr, or a no-op logger when
// the channel is disabled.
func NewLogger(cfg LoggerConfig) *zap.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg LoggerConfig, w io.Writer) *zap.Logger {
	if !cfg.Verbose {
		return zap.NewNop()
	}

	level := zap.NewAtomicLevel()
	if cfg.Level == "" {
		level.SetLevel(zap.DebugLevel)
	} else if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	core := zapcore.NewCore(encoder(cfg.Format), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core, zap.AddStacktrace(zap.ErrorLevel)).Named("rtcwatch")
}

func encoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}
