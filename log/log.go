// Package log threads a *zap.Logger and structured fields through a
// context.Context, using the field names kvswarm's packages attach
// (chunk id, peer, term, ...).
package log

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	fieldsKey key = iota
	loggerKey
)

// WithContext enriches logger with the fields accumulated in ctx.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}

// WithFields returns a context carrying fields in addition to any
// already attached to ctx.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, fieldsKey, append(Fields(ctx), fields...))
}

// Fields extracts the log fields accumulated on ctx, or an empty slice.
func Fields(ctx context.Context) []zap.Field {
	raw := ctx.Value(fieldsKey)

	if raw == nil {
		return []zap.Field{}
	}

	fields, ok := raw.([]zap.Field)

	if !ok {
		return []zap.Field{}
	}

	return fields
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts a logger previously attached with WithLogger, or nil.
func Logger(ctx context.Context) *zap.Logger {
	raw := ctx.Value(loggerKey)

	if raw == nil {
		return nil
	}

	logger, ok := raw.(*zap.Logger)

	if !ok {
		return nil
	}

	return logger
}

// FromContext returns the logger attached to ctx, enriched with ctx's
// fields, falling back to defaultLogger (and attaching it to the
// returned context) if none is present.
func FromContext(ctx context.Context, defaultLogger *zap.Logger) (*zap.Logger, context.Context) {
	logger := Logger(ctx)

	if logger == nil {
		logger = defaultLogger
		ctx = WithLogger(ctx, logger)
	}

	return WithContext(ctx, logger), ctx
}
