package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger     *zap.SugaredLogger
	loggerOnce sync.Once
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger builds the global zap logger with a console encoder writing
// to stderr. Default minimum level is INFO.
func initLogger() {
	loggerOnce.Do(func() {
		encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			TimeKey:        "ts",
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		})
		core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
		logger = zap.New(core).Sugar()
	})
}

// SetLevel changes the minimum level for all subsequent log calls.
// Unknown names leave the level at INFO.
func SetLevel(name string) {
	initLogger()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "info":
		level.SetLevel(zapcore.InfoLevel)
	case "warning", "warn":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	logger.Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	logger.Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger()
	logger.Warnw(msg, kv...)
}

// Error logs msg with the error prepended into the key-value list.
func Error(msg string, err error, kv ...any) {
	initLogger()
	extended := append([]any{"err", err}, kv...)
	logger.Errorw(msg, extended...)
}
