package disruptor

import (
	"context"
	"runtime/debug"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/command"
)

// invoker runs command handlers for the entries routed to its segment.
type invoker struct {
	repositories map[string]*Repository
	shared       cache.Cache
	resolver     command.TargetResolver
	policy       RollbackPolicy
	logger       es.Logger
	segment      int
}

func newInvoker(segment int, config *Configuration, deps pipelineDeps) *invoker {
	inv := &invoker{
		repositories: make(map[string]*Repository, len(deps.factories)),
		shared:       config.Cache,
		resolver:     config.TargetResolver,
		policy:       config.RollbackPolicy,
		logger:       config.Logger,
		segment:      segment,
	}
	for _, f := range deps.factories {
		inv.repositories[f.AggregateType()] = newRepository(segment, f, deps.eventStore, config.Cache, config.FirstLevelCacheSize, config.Logger)
	}
	return inv
}

// OnEvent implements ringbuffer.EventHandler.
func (i *invoker) OnEvent(entry *CommandHandlingEntry, sequence int64, _ bool) error {
	if entry.IsRecoverEntry() {
		i.recover(entry.RecoverAggregateID())
		return nil
	}
	if entry.InvokerSegment() != i.segment {
		return nil
	}

	uow := entry.uow
	if !entry.route.targetResolved && i.resolver != nil {
		if target, err := i.resolver.Resolve(entry.command); err == nil {
			entry.route.target = target
			uow.target = target
		}
	}
	uow.start()

	ctx := contextWithRepositories(contextWithUnitOfWork(entry.ctx, uow), i.repositories)
	result, err := i.invoke(ctx, entry)
	entry.setOutcome(result, err)

	if err != nil && i.policy(err) {
		i.logger.Debug(ctx, "command failed, rolling back invocation",
			"segment", i.segment, "sequence", sequence, "command", entry.command.Name, "error", err)
		uow.rollbackInvocation(err)
		return nil
	}
	uow.commitInvocation()
	return nil
}

func (i *invoker) invoke(ctx context.Context, entry *CommandHandlingEntry) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return entry.invocationChain.Proceed(ctx)
}

// recover evicts aggregateID from every repository and from the shared cache.
func (i *invoker) recover(aggregateID string) {
	for _, repo := range i.repositories {
		repo.firstLevel.Remove(aggregateID)
	}
	if err := i.shared.Remove(context.Background(), aggregateID); err != nil {
		i.logger.Error(context.Background(), "shared cache remove failed", "segment", i.segment, "aggregate_id", aggregateID, "error", err)
	}
	i.logger.Debug(context.Background(), "cleared cached aggregate for recovery", "segment", i.segment, "aggregate_id", aggregateID)
}
