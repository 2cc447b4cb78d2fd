package interceptors

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupcommand/es/command"
)

const tracerName = "github.com/getpup/pupcommand/es/interceptors"

// TracingInterceptor runs each command handler inside an OpenTelemetry span
// named after the command.
type TracingInterceptor struct {
	tracer trace.Tracer
}

var _ command.HandlerInterceptor = (*TracingInterceptor)(nil)

// NewTracingInterceptor creates a TracingInterceptor. A nil provider uses the global one.
func NewTracingInterceptor(tp trace.TracerProvider) *TracingInterceptor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingInterceptor{tracer: tp.Tracer(tracerName)}
}

// Handle implements command.HandlerInterceptor.
func (t *TracingInterceptor) Handle(ctx context.Context, cmd command.Command, chain *command.InterceptorChain) (any, error) {
	ctx, span := t.tracer.Start(ctx, "command "+cmd.Name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("command.name", cmd.Name),
			attribute.String("command.id", cmd.ID.String()),
		))
	defer span.End()

	if id := cmd.MetadataValue(CorrelationIDKey); id != "" {
		span.SetAttributes(attribute.String("command.correlation_id", id))
	}

	result, err := chain.Proceed(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}
