package disruptor

import (
	"context"
	"fmt"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
)

// Phase is the lifecycle position of a UnitOfWork.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseStarted
	PhaseInvocationCommitted
	PhaseInvocationRolledBack
	PhaseCommitted
	PhaseRolledBack
	PhaseCleanedUp
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not-started"
	case PhaseStarted:
		return "started"
	case PhaseInvocationCommitted:
		return "invocation-committed"
	case PhaseInvocationRolledBack:
		return "invocation-rolled-back"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled-back"
	case PhaseCleanedUp:
		return "cleaned-up"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// UnitOfWork scopes the handling of one command.
//
// The invoker goroutine starts it and finalizes the invocation with commitInvocation
// or rollbackInvocation; listeners registered for those steps run on the invoker.
// The publisher goroutine then drives prepare-commit, after-commit or rollback
// notifications and the final cleanup. The two goroutines never touch a unit of
// work at the same time: the ring buffer orders the hand-over.
type UnitOfWork struct {
	aggregate       es.Aggregate
	resources       map[string]any
	command         command.Command
	eventsToStore   []es.DomainEvent
	eventsToPublish []es.DomainEvent

	onInvocationCommit   []func()
	onInvocationRollback []func(err error)
	onPrepareCommit      []func(ctx context.Context) error
	afterCommit          []func(ctx context.Context)
	onRollback           []func(ctx context.Context, err error)
	onCleanup            []func(ctx context.Context)

	target        command.Target
	phase         Phase
	transactional bool
}

func newUnitOfWork(cmd command.Command, target command.Target) *UnitOfWork {
	return &UnitOfWork{command: cmd, target: target}
}

// Command returns the command being handled.
func (u *UnitOfWork) Command() command.Command {
	return u.command
}

// Phase returns the current lifecycle phase.
func (u *UnitOfWork) Phase() Phase {
	return u.phase
}

func (u *UnitOfWork) start() {
	u.phase = PhaseStarted
}

// RegisterAggregate binds agg to the unit of work. Registering the same aggregate
// again is a no-op; a different one fails with ErrAggregateAlreadyRegistered.
func (u *UnitOfWork) RegisterAggregate(agg es.Aggregate) error {
	if u.aggregate == nil {
		u.aggregate = agg
		return nil
	}
	if u.aggregate == agg {
		return nil
	}
	return fmt.Errorf("%w: holds %s %s, got %s %s", ErrAggregateAlreadyRegistered,
		u.aggregate.AggregateType(), u.aggregate.AggregateID(), agg.AggregateType(), agg.AggregateID())
}

// Aggregate returns the registered aggregate, or nil.
func (u *UnitOfWork) Aggregate() es.Aggregate {
	return u.aggregate
}

// Resource returns a named resource.
func (u *UnitOfWork) Resource(name string) (any, bool) {
	v, ok := u.resources[name]
	return v, ok
}

// SetResource stores a named resource for the lifetime of the unit of work.
func (u *UnitOfWork) SetResource(name string, value any) {
	if u.resources == nil {
		u.resources = make(map[string]any)
	}
	u.resources[name] = value
}

// IsTransactional reports whether the publication ran inside a transaction.
func (u *UnitOfWork) IsTransactional() bool {
	return u.transactional
}

// EventsToStore returns the events that will be appended to the event store.
func (u *UnitOfWork) EventsToStore() []es.DomainEvent {
	return u.eventsToStore
}

// EventsToPublish returns the events that will be published on the event bus.
// The slice shares its backing array with the unit of work.
func (u *UnitOfWork) EventsToPublish() []es.DomainEvent {
	return u.eventsToPublish
}

// OnInvocationCommit registers fn to run on the invoker when handling succeeded.
func (u *UnitOfWork) OnInvocationCommit(fn func()) {
	u.onInvocationCommit = append(u.onInvocationCommit, fn)
}

// OnInvocationRollback registers fn to run on the invoker when handling failed.
func (u *UnitOfWork) OnInvocationRollback(fn func(err error)) {
	u.onInvocationRollback = append(u.onInvocationRollback, fn)
}

// OnPrepareCommit registers fn to run on the publisher before events are stored.
// An error aborts the commit.
func (u *UnitOfWork) OnPrepareCommit(fn func(ctx context.Context) error) {
	u.onPrepareCommit = append(u.onPrepareCommit, fn)
}

// AfterCommit registers fn to run on the publisher once events are stored and published.
func (u *UnitOfWork) AfterCommit(fn func(ctx context.Context)) {
	u.afterCommit = append(u.afterCommit, fn)
}

// OnRollback registers fn to run on the publisher when the unit of work is rolled back.
func (u *UnitOfWork) OnRollback(fn func(ctx context.Context, err error)) {
	u.onRollback = append(u.onRollback, fn)
}

// OnCleanup registers fn to run on the publisher after commit or rollback.
func (u *UnitOfWork) OnCleanup(fn func(ctx context.Context)) {
	u.onCleanup = append(u.onCleanup, fn)
}

// commitInvocation moves the aggregate's uncommitted events into the store and
// publish queues, stamped with the command's metadata.
func (u *UnitOfWork) commitInvocation() {
	if u.aggregate != nil {
		md := make(map[string]string, len(u.command.Metadata)+2)
		for k, v := range u.command.Metadata {
			md[k] = v
		}
		md["command_id"] = u.command.ID.String()
		md["command_name"] = u.command.Name

		for _, e := range u.aggregate.UncommittedEvents() {
			e = e.WithMetadata(md)
			u.eventsToStore = append(u.eventsToStore, e)
			u.eventsToPublish = append(u.eventsToPublish, e)
		}
		u.aggregate.CommitEvents()
	}
	u.phase = PhaseInvocationCommitted
	for _, fn := range u.onInvocationCommit {
		fn()
	}
}

// rollbackInvocation runs the invocation rollback listeners and discards the
// aggregate and any queued events.
func (u *UnitOfWork) rollbackInvocation(err error) {
	for _, fn := range u.onInvocationRollback {
		fn(err)
	}
	u.aggregate = nil
	u.eventsToStore = nil
	u.eventsToPublish = nil
	u.phase = PhaseInvocationRolledBack
}

func (u *UnitOfWork) setTransactional(v bool) {
	u.transactional = v
}

func (u *UnitOfWork) notifyPrepareCommit(ctx context.Context) error {
	for _, fn := range u.onPrepareCommit {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("prepare commit: %w", err)
		}
	}
	return nil
}

func (u *UnitOfWork) notifyAfterCommit(ctx context.Context) {
	u.phase = PhaseCommitted
	for _, fn := range u.afterCommit {
		fn(ctx)
	}
}

func (u *UnitOfWork) notifyRollback(ctx context.Context, err error) {
	u.phase = PhaseRolledBack
	for _, fn := range u.onRollback {
		fn(ctx, err)
	}
}

func (u *UnitOfWork) cleanup(ctx context.Context) {
	for _, fn := range u.onCleanup {
		fn(ctx)
	}
	u.phase = PhaseCleanedUp
	u.resources = nil
}

type unitOfWorkKey struct{}

func contextWithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, unitOfWorkKey{}, u)
}

// UnitOfWorkFrom returns the unit of work of the command being handled.
func UnitOfWorkFrom(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(unitOfWorkKey{}).(*UnitOfWork)
	return u, ok && u != nil
}
