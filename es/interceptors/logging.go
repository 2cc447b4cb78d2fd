// Package interceptors provides dispatch and handler interceptors for the command bus.
package interceptors

import (
	"context"
	"time"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
)

// LoggingInterceptor logs commands as they are dispatched and handled.
// It implements both command.DispatchInterceptor and command.HandlerInterceptor.
type LoggingInterceptor struct {
	logger es.Logger
}

var (
	_ command.DispatchInterceptor = (*LoggingInterceptor)(nil)
	_ command.HandlerInterceptor  = (*LoggingInterceptor)(nil)
)

// NewLoggingInterceptor creates a LoggingInterceptor. A nil logger disables it.
func NewLoggingInterceptor(logger es.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{logger: es.LoggerOrNoOp(logger)}
}

// BeforeDispatch implements command.DispatchInterceptor.
func (l *LoggingInterceptor) BeforeDispatch(ctx context.Context, cmd command.Command) (command.Command, error) {
	l.logger.Debug(ctx, "dispatching command", "command", cmd.Name, "command_id", cmd.ID.String())
	return cmd, nil
}

// Handle implements command.HandlerInterceptor.
func (l *LoggingInterceptor) Handle(ctx context.Context, cmd command.Command, chain *command.InterceptorChain) (any, error) {
	start := time.Now()
	result, err := chain.Proceed(ctx)
	if err != nil {
		l.logger.Error(ctx, "command failed",
			"command", cmd.Name, "command_id", cmd.ID.String(), "duration", time.Since(start), "error", err)
		return result, err
	}
	l.logger.Debug(ctx, "command handled",
		"command", cmd.Name, "command_id", cmd.ID.String(), "duration", time.Since(start))
	return result, nil
}
