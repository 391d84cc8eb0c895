package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	traceIDKey   contextKey = "trace_id"
)

// WithSessionID stores the session ID in ctx for later log enrichment
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithTraceID stores a trace ID in ctx for later log enrichment
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// SessionID returns the session ID stored in ctx, if any
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// Stage returns a sugared logger tagged with the pipeline stage name and
// whatever session/trace identifiers ctx carries.
func (cl *ContextLogger) Stage(ctx context.Context, stage string) *zap.SugaredLogger {
	return cl.WithContext(ctx).With(zap.String("stage", stage)).Sugar()
}

// WithFields adds custom fields to logger
func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.Logger {
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	logger := cl.WithContext(ctx).With(zap.Error(err))
	logger.Error(message, fields...)
}

// LogInfo logs info message with context
func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info(message, fields...)
}

// LogWarn logs warning message with context
func (cl *ContextLogger) LogWarn(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Warn(message, fields...)
}
