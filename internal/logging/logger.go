package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DefaultLogger is the default logger inside cetty.
	DefaultLogger Logger
	zapLogger     *zap.Logger
)

func init() {
	level := zapcore.DebugLevel
	if lvl, ok := os.LookupEnv("CETTY_LOGGING_LEVEL"); ok {
		_ = level.UnmarshalText([]byte(lvl))
	}

	prod := strings.ToLower(os.Getenv("CETTY_LOGGING_MODE")) == "prod"
	if file := os.Getenv("CETTY_LOGGING_FILE"); file != "" {
		zapLogger = NewFileLogger(file, level, prod)
	} else {
		var cfg zap.Config
		if prod {
			cfg = zap.NewProductionConfig()
		} else {
			// Other values except "prod" create the development logger.
			cfg = zap.NewDevelopmentConfig()
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
		zapLogger, _ = cfg.Build()
	}
	DefaultLogger = zapLogger.Sugar()
}

// NewFileLogger returns a zap logger writing to a size-rotated file.
func NewFileLogger(file string, level zapcore.Level, prod bool) *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	if prod {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		MaxAge:     15, // days
	})
	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
}

// Cleanup does something windup for logger, like closing, flushing, etc.
func Cleanup() {
	_ = zapLogger.Sync()
}

// Logger is used for logging formatted messages.
type Logger interface {
	// Debugf logs messages at DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs messages at INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs messages at WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs messages at ERROR level.
	Errorf(format string, args ...interface{})
	// Fatalf logs messages at FATAL level.
	Fatalf(format string, args ...interface{})
}
