package disruptor

import (
	"context"
	"errors"

	"github.com/getpup/pupcommand/es/command"
)

// blacklistCallback wraps the caller's callback. It turns blacklisting failures into
// recovery requests and, when configured, retries commands rejected on a corrupt aggregate.
type blacklistCallback struct {
	bus      *CommandBus
	ctx      context.Context
	delegate command.Callback
}

func (b *blacklistCallback) OnSuccess(cmd command.Command, result any) {
	b.bus.commandDone()
	b.delegate.OnSuccess(cmd, result)
}

func (b *blacklistCallback) OnFailure(cmd command.Command, err error) {
	var blacklisted *AggregateBlacklistedError
	if errors.As(err, &blacklisted) {
		b.bus.publishRecovery(blacklisted.AggregateID)
		b.bus.commandDone()
		b.delegate.OnFailure(cmd, blacklisted.Err)
		return
	}

	var corrupted *AggregateStateCorruptedError
	if errors.As(err, &corrupted) && b.bus.config.RescheduleCommandsOnCorruptState {
		b.bus.redispatch(b.ctx, cmd, b)
		return
	}
	b.bus.commandDone()
	b.delegate.OnFailure(cmd, err)
}
