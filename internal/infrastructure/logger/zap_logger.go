package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger tees console output, a rotating activity file and the dashboard hub.
// The file and hub always receive debug entries; the console honours Level.
func NewLogger(cfg Config, hub *Hub) (*zap.Logger, error) {
	// Parse level
	l, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		l = zapcore.InfoLevel
	}

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(l)),
	}

	plainEnc := zap.NewProductionEncoderConfig()
	plainEnc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	plainEnc.EncodeLevel = zapcore.CapitalLevelEncoder

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 5),
			MaxBackups: orDefault(cfg.MaxBackups, 2),
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(plainEnc), zapcore.AddSync(file), zapcore.DebugLevel))
	}
	if hub != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(plainEnc), zapcore.AddSync(hub), zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
