package observability

import "context"

// Domain span helpers. These standardize span names and attribute keys so
// exports stay queryable across components.

// StartAgentSpan opens an "agent.<phase>" span (plan, execute, replan, ...).
func StartAgentSpan(t Tracer, ctx context.Context, phase string, attrs map[string]interface{}) (context.Context, Span) {
	return t.StartSpan(ctx, "agent."+phase, WithAttributes(attrs))
}

// StartToolSpan opens a "tool.execute" span for the named tool.
func StartToolSpan(t Tracer, ctx context.Context, toolName string, attrs map[string]interface{}) (context.Context, Span) {
	ctx, span := t.StartSpan(ctx, "tool.execute", WithKind(SpanKindClient), WithAttributes(attrs))
	span.SetAttribute("tool.name", toolName)
	return ctx, span
}

// StartLLMSpan opens an "llm.generation" span carrying gen_ai request
// attributes.
func StartLLMSpan(t Tracer, ctx context.Context, model string, maxTokens int, temperature float64) (context.Context, Span) {
	ctx, span := t.StartSpan(ctx, "llm.generation", WithKind(SpanKindClient))
	span.SetAttributes(map[string]interface{}{
		"gen_ai.model.name":          model,
		"gen_ai.request.max_tokens":  maxTokens,
		"gen_ai.request.temperature": temperature,
	})
	return ctx, span
}

// RecordLLMUsage stamps token consumption on an llm.generation span.
func RecordLLMUsage(span Span, inputTokens, outputTokens int) {
	span.SetAttributes(map[string]interface{}{
		"gen_ai.usage.input_tokens":  inputTokens,
		"gen_ai.usage.output_tokens": outputTokens,
	})
}
