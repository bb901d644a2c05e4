package clog

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

type (
	tripRequestIDKey struct{}
	bookingIDKey     struct{}
	userIDKey        struct{}
)

// WithTripRequestID 在 Context 中记录 trip request id
func WithTripRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tripRequestIDKey{}, id)
}

// WithBookingID 在 Context 中记录 booking request id
func WithBookingID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, bookingIDKey{}, id)
}

// WithUserID 在 Context 中记录用户 id
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func extractContextFields(ctx context.Context, o *options, attrs []slog.Attr) []slog.Attr {
	if o == nil {
		return attrs
	}
	for _, cf := range o.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			attrs = append(attrs, slog.Any(cf.FieldName, val))
		}
	}
	if o.enableTraceExtraction {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			attrs = append(attrs,
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return attrs
}

func namespaceString(o *options) string {
	if o == nil || len(o.namespaceParts) == 0 {
		return ""
	}
	return strings.Join(o.namespaceParts, ".")
}
