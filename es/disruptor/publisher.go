package disruptor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/eventbus"
	"github.com/getpup/pupcommand/es/store"
	"github.com/getpup/pupcommand/es/txn"
)

// publisher stores and publishes the outcome of invocations routed to its segment,
// and guards aggregates whose cached state can no longer be trusted.
//
// A publisher walks every entry through:
//
//	Pending -> Rejected-Stale            (first aggregate-not-found, rescheduled)
//	Pending -> Rejected-Blacklisted      (aggregate blacklisted)
//	Pending -> Committing -> Committed
//	Pending -> RollingBack -> RolledBack (blacklisting the aggregate if it is still live)
type publisher struct {
	eventStore  store.EventStore
	eventBus    eventbus.EventBus
	txManager   txn.TransactionManager
	policy      RollbackPolicy
	executor    Executor
	logger      es.Logger
	redispatch  func(ctx context.Context, cmd command.Command, cb command.Callback)
	blacklist   map[string]struct{}
	pending     *pendingCreates
	segment     int
}

func newPublisher(segment int, config *Configuration, deps pipelineDeps, redispatch func(context.Context, command.Command, command.Callback)) *publisher {
	return &publisher{
		eventStore: deps.eventStore,
		eventBus:   config.EventBus,
		txManager:  config.TransactionManager,
		policy:     config.RollbackPolicy,
		executor:   deps.executor,
		logger:     config.Logger,
		redispatch: redispatch,
		blacklist:  make(map[string]struct{}),
		pending:    newPendingCreates(config.BufferSize),
		segment:    segment,
	}
}

// OnEvent implements ringbuffer.EventHandler.
func (p *publisher) OnEvent(entry *CommandHandlingEntry, sequence int64, _ bool) error {
	if entry.IsRecoverEntry() {
		if _, ok := p.blacklist[entry.RecoverAggregateID()]; ok {
			delete(p.blacklist, entry.RecoverAggregateID())
			p.logger.Info(context.Background(), "aggregate recovered", "segment", p.segment, "aggregate_id", entry.RecoverAggregateID())
		}
		return nil
	}
	if entry.PublisherSegment() != p.segment {
		return nil
	}
	p.process(entry, sequence)
	return nil
}

func (p *publisher) process(entry *CommandHandlingEntry, sequence int64) {
	cmd := entry.command
	uow := entry.uow
	cb := entry.callback
	// Publication interceptors and listeners reach the unit of work through ctx.
	ctx := contextWithUnitOfWork(entry.ctx, uow)

	var notFound *AggregateNotFoundError
	if errors.As(entry.err, &notFound) && !p.pending.contains(cmd.ID) {
		p.pending.add(cmd.ID)
		uow.cleanup(ctx)
		p.logger.Debug(ctx, "aggregate not found, rescheduling command",
			"segment", p.segment, "sequence", sequence, "command", cmd.Name, "aggregate_id", notFound.AggregateID)
		dispatchCtx := entry.ctx
		p.executor.Execute(func() { p.redispatch(dispatchCtx, cmd, cb) })
		return
	}
	p.pending.remove(cmd.ID)

	var (
		result any
		err    error
	)
	if id := entry.aggregateID(); id != "" && p.isBlacklisted(id) {
		err = &AggregateStateCorruptedError{AggregateID: id}
		p.safely(ctx, func() error {
			uow.notifyRollback(ctx, err)
			return nil
		})
	} else {
		result, err = p.publish(ctx, entry)
	}

	p.safely(ctx, func() error {
		uow.cleanup(ctx)
		return nil
	})
	p.report(cmd, cb, result, err)
}

// publish runs the publication chain and then commits or rolls back the unit of work.
func (p *publisher) publish(ctx context.Context, entry *CommandHandlingEntry) (any, error) {
	uow := entry.uow
	var result any
	err := p.safely(ctx, func() error {
		var chainErr error
		result, chainErr = entry.publicationChain.Proceed(ctx)
		return chainErr
	})

	if err != nil && p.policy(err) {
		return nil, p.rollback(ctx, uow, err)
	}
	if commitErr := p.safely(ctx, func() error { return p.commit(ctx, uow) }); commitErr != nil {
		return nil, p.rollback(ctx, uow, commitErr)
	}
	return result, err
}

// commit stores and publishes the unit of work's events, inside a transaction when configured.
func (p *publisher) commit(ctx context.Context, uow *UnitOfWork) (err error) {
	if err := uow.notifyPrepareCommit(ctx); err != nil {
		return err
	}

	// txCtx carries the transaction; after-commit listeners get ctx since it has ended.
	txCtx := ctx
	var tx txn.Transaction
	if p.txManager != nil {
		tx, txCtx, err = p.txManager.Start(ctx)
		if err != nil {
			return err
		}
		uow.setTransactional(true)
		defer func() {
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					p.logger.Error(ctx, "transaction rollback failed", "segment", p.segment, "error", rbErr)
				}
			}
		}()
	}

	if events := uow.EventsToStore(); len(events) > 0 {
		if err := p.eventStore.AppendEvents(txCtx, events[0].AggregateType, events); err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
	}
	if events := uow.EventsToPublish(); len(events) > 0 && p.eventBus != nil {
		if err := p.eventBus.Publish(txCtx, events...); err != nil {
			return fmt.Errorf("failed to publish events: %w", err)
		}
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	uow.notifyAfterCommit(ctx)
	return nil
}

// rollback notifies rollback listeners. If the invocation left a live aggregate
// behind, its cached state is ahead of the store: blacklist it until recovery.
func (p *publisher) rollback(ctx context.Context, uow *UnitOfWork, cause error) error {
	p.safely(ctx, func() error {
		uow.notifyRollback(ctx, cause)
		return nil
	})
	agg := uow.Aggregate()
	if agg == nil {
		return cause
	}
	id := agg.AggregateID()
	p.blacklist[id] = struct{}{}
	p.logger.Error(ctx, "aggregate blacklisted",
		"segment", p.segment, "command", uow.Command().Name, "aggregate_id", id, "error", cause)
	return &AggregateBlacklistedError{AggregateID: id, Err: cause}
}

func (p *publisher) isBlacklisted(id string) bool {
	_, ok := p.blacklist[id]
	return ok
}

// report delivers the outcome on the executor.
func (p *publisher) report(cmd command.Command, cb command.Callback, result any, err error) {
	if cb == nil {
		return
	}
	p.executor.Execute(func() {
		if err != nil {
			cb.OnFailure(cmd, err)
			return
		}
		cb.OnSuccess(cmd, result)
	})
}

// safely runs fn, turning a panic into a *PanicError.
func (p *publisher) safely(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			p.logger.Error(ctx, "publisher recovered from panic", "segment", p.segment, "panic", r)
		}
	}()
	return fn()
}
