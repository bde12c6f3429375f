// Package logging builds the zap loggers used across the registry service.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger level, encoding and sinks.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string

	// Encoding is "json" or "console".
	Encoding string

	// File, when set, receives a copy of every log line in addition to stderr.
	File string
}

// New builds a logger from cfg. The returned close function flushes the
// logger and releases its sinks; call it once the logger is no longer used.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("logging: invalid encoding %q", cfg.Encoding)
	}

	paths := []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("logging: create log directory: %w", err)
		}
		paths = append(paths, cfg.File)
	}
	sink, closeSink, err := zap.Open(paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open sinks: %w", err)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level),
		zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Address is a field for a member or owner address.
func Address(key string, addr fmt.Stringer) zap.Field {
	return zap.Stringer(key, addr)
}
