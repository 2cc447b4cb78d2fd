package disruptor

import (
	"context"

	"github.com/getpup/pupcommand/es/command"
)

// route is where an entry is processed in each stage.
type route struct {
	target            command.Target
	invokerSegment    int
	serializerSegment int
	publisherSegment  int
	targetResolved    bool
}

// CommandHandlingEntry is a ring buffer slot. It is reused for every command that
// lands on its slot; Reset and ResetAsRecoverEntry clear everything from the previous use.
type CommandHandlingEntry struct {
	ctx               context.Context
	result            any
	err               error
	callback          command.Callback
	uow               *UnitOfWork
	publicationResult command.Handler
	invocationChain   command.InterceptorChain
	publicationChain  command.InterceptorChain
	command           command.Command
	recoverAggregate  string
	route             route
	isRecoverEntry    bool
}

func initEntry(e *CommandHandlingEntry) {
	e.publicationResult = command.HandlerFunc(e.replayOutcome)
}

// replayOutcome is the handler at the end of the publication chain. It returns
// what the invocation produced.
func (e *CommandHandlingEntry) replayOutcome(context.Context, command.Command) (any, error) {
	return e.result, e.err
}

// Reset prepares the entry for a command.
func (e *CommandHandlingEntry) Reset(
	ctx context.Context,
	cmd command.Command,
	handler command.Handler,
	r route,
	callback command.Callback,
	invocation, publication []command.HandlerInterceptor,
) {
	e.ctx = ctx
	e.command = cmd
	e.callback = callback
	e.route = r
	e.result = nil
	e.err = nil
	e.isRecoverEntry = false
	e.recoverAggregate = ""
	e.uow = newUnitOfWork(cmd, r.target)
	e.invocationChain.Reset(cmd, handler, invocation)
	e.publicationChain.Reset(cmd, e.publicationResult, publication)
}

// ResetAsRecoverEntry turns the entry into a recovery signal for aggregateID.
// Every invoker and publisher acts on it regardless of routing.
func (e *CommandHandlingEntry) ResetAsRecoverEntry(aggregateID string) {
	e.ctx = context.Background()
	e.command = command.Command{}
	e.callback = nil
	e.route = route{}
	e.result = nil
	e.err = nil
	e.isRecoverEntry = true
	e.recoverAggregate = aggregateID
	e.uow = nil
	e.invocationChain.Reset(command.Command{}, nil, nil)
	e.publicationChain.Reset(command.Command{}, nil, nil)
}

// IsRecoverEntry reports whether the entry carries a recovery signal instead of a command.
func (e *CommandHandlingEntry) IsRecoverEntry() bool {
	return e.isRecoverEntry
}

// RecoverAggregateID returns the aggregate of a recovery entry.
func (e *CommandHandlingEntry) RecoverAggregateID() string {
	return e.recoverAggregate
}

// Command returns the command of a command entry.
func (e *CommandHandlingEntry) Command() command.Command {
	return e.command
}

// UnitOfWork returns the unit of work of a command entry.
func (e *CommandHandlingEntry) UnitOfWork() *UnitOfWork {
	return e.uow
}

// InvokerSegment returns the invoker that owns the entry.
func (e *CommandHandlingEntry) InvokerSegment() int { return e.route.invokerSegment }

// SerializerSegment returns the serializer that owns the entry.
func (e *CommandHandlingEntry) SerializerSegment() int { return e.route.serializerSegment }

// PublisherSegment returns the publisher that owns the entry.
func (e *CommandHandlingEntry) PublisherSegment() int { return e.route.publisherSegment }

// Outcome returns the result and error recorded by the invoker.
func (e *CommandHandlingEntry) Outcome() (any, error) {
	return e.result, e.err
}

func (e *CommandHandlingEntry) setOutcome(result any, err error) {
	e.result = result
	e.err = err
}

// aggregateID returns the live aggregate's id, or the resolved target id.
func (e *CommandHandlingEntry) aggregateID() string {
	if e.uow != nil {
		if agg := e.uow.Aggregate(); agg != nil {
			return agg.AggregateID()
		}
	}
	return e.route.target.AggregateID
}
