package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a configured logger
// level: "debug", "info", "warn", "error"
// encoding: "json" (production) or "console" (development)
func New(level string, encoding string) *zap.Logger {
	log, _ := NewAtomic(level, encoding)
	return log
}

// NewAtomic is like New but also returns the level handle, so verbosity can be
// changed on a running logger
func NewAtomic(level string, encoding string) (*zap.Logger, zap.AtomicLevel) {
	atom := zap.NewAtomicLevelAt(ParseLevel(level))

	if encoding != "console" {
		encoding = "json"
	}

	cfg := zap.Config{
		Level:       atom,
		Development: encoding == "console",
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		// if logger fails, fallback to basic stdout and exit
		os.Stdout.WriteString("FAILED TO INIT LOGGER: " + err.Error())
		os.Exit(1)
	}

	return logger, atom
}

// ParseLevel maps a level name to zap, unknown names fall back to info
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
