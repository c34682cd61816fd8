package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/moumen26/insurance-client-side/internal/config"
)

// New builds the diagnostic logger for cfg. Entries go to stderr since
// command output owns stdout. An unknown level falls back to info, any
// format other than console is JSON.
func New(cfg config.LogConfig, command string) (*zap.Logger, error) {
	zc := zapConfig(cfg.Format)
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}

	fields := make([]zap.Field, 0, 2)
	if command != "" {
		fields = append(fields, zap.String("service_name", command))
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		fields = append(fields, zap.String("hostname", host))
	}
	return l.With(fields...), nil
}

// NewDefault info level JSON logger without a service name.
func NewDefault() (*zap.Logger, error) {
	return New(config.LogConfig{Level: "info", Format: config.LogFormatJSON}, "")
}

func zapConfig(format string) zap.Config {
	if format == config.LogFormatConsole {
		return zap.NewDevelopmentConfig()
	}
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}
