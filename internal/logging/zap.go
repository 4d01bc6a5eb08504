package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	l *zap.Logger
}

// newZap builds a zap-backed Logger. Format "json" selects the production
// encoder; anything else the development console encoder.
func newZap(cfg Config) Logger {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel(cfg.Level))
	zapCfg.DisableCaller = !cfg.AddSource

	l, err := zapCfg.Build()
	if err != nil {
		// Fall back to slog.
		return New(Config{Level: cfg.Level, Format: cfg.Format, AddSource: cfg.AddSource, Output: cfg.Output})
	}
	return &zapLogger{l: l}
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(toZap(context.Background(), fields...)...)}
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, toZap(ctx, fields...)...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, toZap(ctx, fields...)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, toZap(ctx, fields...)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, toZap(ctx, fields...)...)
}

func (z *zapLogger) Sync() error { return z.l.Sync() }

// toZap converts fields and adds the request id carried by ctx, which slog
// handlers get through LogAttrs but zap does not.
func toZap(ctx context.Context, fields ...Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if id := RequestIDFromContext(ctx); id != "" {
		out = append(out, zap.String(string(requestIDKey), id))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
