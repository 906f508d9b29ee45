package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	requestCtxKey    struct{}
	collectionCtxKey struct{}
	loggerCtxKey     struct{}
)

const maxIDLen = 128

// WithRequestID returns ctx carrying the request ID. IDs longer than 128
// bytes are truncated.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithCollection returns ctx carrying the collection being worked on.
func WithCollection(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, collectionCtxKey{}, name)
}

// CollectionFromContext returns the collection name, or "".
func CollectionFromContext(ctx context.Context) string {
	name, _ := ctx.Value(collectionCtxKey{}).(string)
	return name
}

// ContextFields returns the correlation fields held by ctx: trace and span
// IDs, request ID and collection.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if name := CollectionFromContext(ctx); name != "" {
		fields = append(fields, zap.String("collection", name))
	}
	return fields
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx with the context fields
// attached, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(loggerCtxKey{}).(*zap.Logger)
	if !ok || l == nil {
		return zap.NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}
