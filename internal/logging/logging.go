// Package logging holds the process-wide zap logger. Until Init is called
// every logger is a no-op, so library code and tests can log freely.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger.
var Log = zap.NewNop()

// Init sets up console output on stdout and, when file is non-empty, a JSON
// copy rotated by lumberjack.
func Init(level, file string) error {
	lvl := ParseLevel(level)

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		lvl,
	)
	core := consoleCore

	if file != "" {
		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   file,
				MaxSize:    100, // megabytes
				MaxBackups: 5,
				MaxAge:     7, // days
				Compress:   true,
			}),
			lvl,
		)
		core = zapcore.NewTee(consoleCore, fileCore)
	}

	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	Log.Info("logger initialized", zap.String("level", lvl.String()), zap.String("file", file))
	return nil
}

// Named returns a child of the global logger. Components call it once at
// construction, so Init must run first to take effect.
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

// Close flushes buffered entries.
func Close() error {
	return Log.Sync()
}

// ParseLevel maps a level name onto zapcore. Unknown names mean info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
