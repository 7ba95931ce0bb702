package core

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
	LogFormatAuto   = "auto"
)

// InitLogger initializes zap's global logger.
// After calling this, we use zap.L() directly.
func InitLogger(format string, level string) error {
	pretty := format == LogFormatPretty
	if format == LogFormatAuto {
		pretty = term.IsTerminal(int(os.Stderr.Fd()))
	}

	var config zap.Config
	if pretty {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// LogQuery logs the outcome of a single query against a server using zap's global logger
func LogQuery(server string, requestID string, duration float64, err error) {
	fields := []zap.Field{
		zap.String("server", server),
		zap.String("request_id", requestID),
		zap.Float64("duration_seconds", duration),
		zap.Bool("success", err == nil),
	}

	if err != nil {
		fields = append(fields, zap.String("kind", string(KindOf(err))), zap.Error(err))
		zap.L().Error("Query failed", fields...)
		return
	}

	zap.L().Info("Query completed successfully", fields...)
}

// LogDeferredError runs fn and logs its error, for use with defer on Close-like calls.
func LogDeferredError(fn func() error) {
	if err := fn(); err != nil {
		zap.L().Error("Deferred call failed", zap.Error(err))
	}
}

// LogPanicRecovery logs a recovered panic value.
func LogPanicRecovery(where string, recovered any) {
	zap.L().Error("Recovered from panic",
		zap.String("where", where),
		zap.Any("panic", recovered),
		zap.String("report", BugReportMessage()),
		zap.Stack("stack"))
}
