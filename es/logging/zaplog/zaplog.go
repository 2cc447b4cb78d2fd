// Package zaplog adapts zap to the es.Logger interface.
package zaplog

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/getpup/pupcommand/es"
)

// Logger is an es.Logger backed by a zap.SugaredLogger.
// Entries logged with a context carrying a sampled span get trace_id and span_id fields.
type Logger struct {
	sugared *zap.SugaredLogger
}

var _ es.Logger = (*Logger)(nil)

// New builds a logger for mode: "prod"/"production" gives JSON output at info level,
// anything else a development console logger at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return Wrap(zl), nil
}

// Wrap adapts an existing zap logger.
func Wrap(zl *zap.Logger) *Logger {
	return &Logger{sugared: zl.Sugar()}
}

// With returns a logger that adds keyvals to every entry.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{sugared: l.sugared.With(keyvals...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.sugared.Sync()
}

// Debug implements es.Logger.
func (l *Logger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugared.Debugw(msg, withTrace(ctx, keyvals)...)
}

// Info implements es.Logger.
func (l *Logger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugared.Infow(msg, withTrace(ctx, keyvals)...)
}

// Error implements es.Logger.
func (l *Logger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugared.Errorw(msg, withTrace(ctx, keyvals)...)
}

func withTrace(ctx context.Context, keyvals []interface{}) []interface{} {
	if ctx == nil {
		return keyvals
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return keyvals
	}
	out := make([]interface{}, 0, len(keyvals)+4)
	out = append(out, keyvals...)
	return append(out, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
