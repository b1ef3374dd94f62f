package observability

import "context"

type ctxKey int

const (
	spanKey ctxKey = iota
	correlationKey
	executionKey
	tenantKey
)

// ContextWithSpan returns ctx carrying span.
func ContextWithSpan(ctx context.Context, span Span) context.Context {
	return context.WithValue(ctx, spanKey, span)
}

// SpanFromContext returns the span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) Span {
	if s, ok := ctx.Value(spanKey).(Span); ok {
		return s
	}
	return nil
}

// WithSpan installs span for the duration of fn. A non-nil error from fn is
// recorded on the span before it ends.
func WithSpan(ctx context.Context, span Span, fn func(ctx context.Context) error) error {
	defer span.End()
	err := fn(ContextWithSpan(ctx, span))
	if err != nil {
		span.RecordException(err)
	}
	return err
}

// WithCorrelationID returns ctx carrying a correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom returns the correlation identifier in ctx, or "".
func CorrelationIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(correlationKey).(string)
	return s
}

// WithExecutionID returns ctx carrying an execution identifier.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionKey, id)
}

// ExecutionIDFrom returns the execution identifier in ctx, or "".
func ExecutionIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(executionKey).(string)
	return s
}

// WithTenantID returns ctx carrying a tenant identifier.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// TenantIDFrom returns the tenant identifier in ctx, or "".
func TenantIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(tenantKey).(string)
	return s
}

// CorrelationAttributes is the default ContextAttributeProvider: it stamps
// tenant.id, correlation.id, and execution.id onto every span started under
// a context that carries them.
func CorrelationAttributes(ctx context.Context) map[string]interface{} {
	attrs := make(map[string]interface{}, 3)
	if v := TenantIDFrom(ctx); v != "" {
		attrs["tenant.id"] = v
	}
	if v := CorrelationIDFrom(ctx); v != "" {
		attrs["correlation.id"] = v
	}
	if v := ExecutionIDFrom(ctx); v != "" {
		attrs["execution.id"] = v
	}
	return attrs
}
