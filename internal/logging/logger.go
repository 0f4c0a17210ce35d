// Package logging builds the zap loggers shared across the gateway process.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level       string
	Environment string // "production" or "development"
	FilePath    string // optional; enables lumberjack rotation when set
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// DefaultConfig returns sane development defaults.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Environment: "development",
		MaxSizeMB:   100,
		MaxBackups:  5,
		MaxAgeDays:  14,
	}
}

// New builds the process-wide *zap.Logger per cfg.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
		zcfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zcfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}

	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.InitialFields = map[string]interface{}{"service": "market-order-gateway"}

	if cfg.FilePath == "" {
		logger, err := zcfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		return logger, nil
	}

	encoder := zapcore.NewJSONEncoder(zcfg.EncoderConfig)
	if cfg.Environment != "production" {
		encoder = zapcore.NewConsoleEncoder(zcfg.EncoderConfig)
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
	core := zapcore.NewCore(encoder, writer, zcfg.Level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
