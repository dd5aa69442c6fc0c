// Package logger holds the process-wide zap logger, with optional Sentry
// forwarding of error-level events.
package logger

import (
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log          = zap.NewNop()
	sentryClient *sentry.Client
)

// Config holds logger configuration.
type Config struct {
	Debug     bool
	SentryDSN string
	Tags      map[string]string
}

// Initialize builds the global logger. With an empty SentryDSN only the
// zap core is installed.
func Initialize(cfg Config) error {
	var zapConfig zap.Config
	if cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	baseLogger, err := zapConfig.Build()
	if err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		sentryClient, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:   cfg.SentryDSN,
			Debug: cfg.Debug,
		})
		if err != nil {
			return err
		}

		core, err := zapsentry.NewCore(zapsentry.Configuration{
			Level:             zapcore.ErrorLevel,
			EnableBreadcrumbs: true,
			BreadcrumbLevel:   zapcore.InfoLevel,
			Tags:              cfg.Tags,
		}, zapsentry.NewSentryClientFromClient(sentryClient))
		if err != nil {
			return err
		}
		baseLogger = zapsentry.AttachCoreToLogger(core, baseLogger)
	}

	log = baseLogger
	return nil
}

// Flush drains buffered sentry events before shutdown.
func Flush(timeout time.Duration) {
	if sentryClient != nil {
		sentryClient.Flush(timeout)
	}
}

// Default returns the global logger.
func Default() *zap.Logger {
	return log
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

// Error logs an error with its cause chain preserved.
func Error(err error, fields ...zap.Field) {
	if err != nil {
		log.Error(err.Error(), append(fields, zap.Error(err))...)
	} else {
		log.Error("error occurred", fields...)
	}
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}
