package interceptors

import (
	"context"

	"github.com/google/uuid"

	"github.com/getpup/pupcommand/es/command"
)

// CorrelationIDKey is the metadata key carrying the correlation id.
const CorrelationIDKey = "correlation_id"

type correlationKey struct{}

// ContextWithCorrelationID returns a context whose dispatched commands carry id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationDispatchInterceptor stamps a correlation id on every dispatched command
// that has none. The id comes from the dispatch context, or is generated.
type CorrelationDispatchInterceptor struct{}

var _ command.DispatchInterceptor = CorrelationDispatchInterceptor{}

// BeforeDispatch implements command.DispatchInterceptor.
func (CorrelationDispatchInterceptor) BeforeDispatch(ctx context.Context, cmd command.Command) (command.Command, error) {
	if cmd.MetadataValue(CorrelationIDKey) != "" {
		return cmd, nil
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	if id == "" {
		id = uuid.NewString()
	}
	return cmd.WithMetadata(map[string]string{CorrelationIDKey: id}), nil
}
