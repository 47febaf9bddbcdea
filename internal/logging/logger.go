package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultMaxBackups = 3

// FileConfig describes an optional rotating log file.
type FileConfig struct {
	Path      string
	MaxSizeMB int
}

// NewLogger returns a zap logger configured for structured production logging.
func NewLogger(level string) (*zap.Logger, error) {
	return NewLoggerWithFile(level, FileConfig{})
}

// NewLoggerWithFile behaves like NewLogger and, when file.Path is set, also
// writes JSON lines to a size-rotated file.
func NewLoggerWithFile(level string, file FileConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(file.Path) == "" {
		return logger, nil
	}

	sink := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: defaultMaxBackups,
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(sink),
		cfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
