// Package logger builds the zap loggers used across prerender. Output goes
// to stderr because the child process reserves stdout for protocol frames.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // "json" or "console"
	// Output replaces stderr when set.
	Output zapcore.WriteSyncer
}

// New creates a zap logger. An unknown level falls back to info.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Sampling = nil
	}
	if cfg.Encoding != "" {
		zapConfig.Encoding = cfg.Encoding
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	if cfg.Output == nil {
		return zapConfig.Build()
	}

	var enc zapcore.Encoder
	if zapConfig.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(zapConfig.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(zapConfig.EncoderConfig)
	}
	return zap.New(zapcore.NewCore(enc, cfg.Output, zapConfig.Level), zap.ErrorOutput(cfg.Output)), nil
}

// Default creates a console logger whose level comes from
// PRERENDER_LOG_LEVEL.
func Default() *zap.Logger {
	logger, err := New(Config{
		Level:    os.Getenv("PRERENDER_LOG_LEVEL"),
		Encoding: "console",
	})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Level returns "debug" when verbose is set and "info" otherwise.
func Level(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "info"
}
