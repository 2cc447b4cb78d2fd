package es

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateDeleted indicates an event was applied to a deleted aggregate.
	ErrAggregateDeleted = errors.New("aggregate is deleted")

	// ErrUnexpectedSequence indicates a replayed event does not follow the aggregate's version.
	ErrUnexpectedSequence = errors.New("unexpected event sequence number")

	// ErrSnapshotUnsupported indicates an aggregate that cannot produce a snapshot in its current state.
	ErrSnapshotUnsupported = errors.New("aggregate cannot be snapshotted")
)

// Aggregate is an event-sourced consistency boundary.
// Implementations embed *AggregateRoot (or AggregateRoot) and implement ApplyEvent.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type of this aggregate (e.g., "Order").
	AggregateType() string

	// Version returns the sequence number of the last committed event, or -1 for a new aggregate.
	Version() int64

	// UncommittedEvents returns events applied but not yet handed to the unit of work.
	UncommittedEvents() []DomainEvent

	// CommitEvents marks all uncommitted events as committed.
	CommitEvents()

	// IsDeleted reports whether the aggregate was marked deleted.
	IsDeleted() bool

	// ApplyEvent mutates state from an event. It is used both for new events and for replay.
	ApplyEvent(event DomainEvent) error

	root() *AggregateRoot
}

// Snapshotter is implemented by aggregates that can be seeded from a snapshot event.
type Snapshotter interface {
	RestoreSnapshot(event DomainEvent) error
}

// SnapshotSource is implemented by aggregates that can export their full state.
// The returned value is what RestoreSnapshot receives as the snapshot payload.
type SnapshotSource interface {
	SnapshotState() any
}

// TakeSnapshot returns a snapshot event carrying agg's state at its committed version.
// agg must implement SnapshotSource, have history and no uncommitted events.
func TakeSnapshot(agg Aggregate, eventType string) (DomainEvent, error) {
	src, ok := agg.(SnapshotSource)
	if !ok {
		return DomainEvent{}, fmt.Errorf("%w: %s does not implement SnapshotSource", ErrSnapshotUnsupported, agg.AggregateType())
	}
	if agg.Version() < 0 || len(agg.UncommittedEvents()) > 0 {
		return DomainEvent{}, fmt.Errorf("%w: %s %s has no committed state", ErrSnapshotUnsupported, agg.AggregateType(), agg.AggregateID())
	}
	event := NewDomainEvent(agg.AggregateType(), agg.AggregateID(), agg.Version(), eventType, src.SnapshotState())
	event.Snapshot = true
	return event, nil
}

// AggregateRoot holds the bookkeeping shared by all event-sourced aggregates.
type AggregateRoot struct {
	id            string
	aggregateType string
	uncommitted   []DomainEvent
	lastCommitted int64
	deleted       bool
}

// NewAggregateRoot creates an AggregateRoot for a new aggregate with no history.
func NewAggregateRoot(aggregateType, id string) AggregateRoot {
	return AggregateRoot{
		id:            id,
		aggregateType: aggregateType,
		lastCommitted: -1,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateRoot) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate type.
func (a *AggregateRoot) AggregateType() string {
	return a.aggregateType
}

// Version returns the sequence number of the last committed event.
func (a *AggregateRoot) Version() int64 {
	return a.lastCommitted
}

// UncommittedEvents returns events that haven't been committed yet.
func (a *AggregateRoot) UncommittedEvents() []DomainEvent {
	return a.uncommitted
}

// CommitEvents moves the committed version past all uncommitted events.
func (a *AggregateRoot) CommitEvents() {
	if n := len(a.uncommitted); n > 0 {
		a.lastCommitted = a.uncommitted[n-1].SequenceNumber
	}
	a.uncommitted = nil
}

// IsDeleted reports whether MarkDeleted was called.
func (a *AggregateRoot) IsDeleted() bool {
	return a.deleted
}

// MarkDeleted flags the aggregate as deleted. Further Apply calls fail.
func (a *AggregateRoot) MarkDeleted() {
	a.deleted = true
}

func (a *AggregateRoot) root() *AggregateRoot {
	return a
}

func (a *AggregateRoot) nextSequence() int64 {
	if n := len(a.uncommitted); n > 0 {
		return a.uncommitted[n-1].SequenceNumber + 1
	}
	return a.lastCommitted + 1
}

// Apply records a new event for agg and applies it to agg's state.
func Apply(agg Aggregate, eventType string, payload any) (DomainEvent, error) {
	r := agg.root()
	if r.deleted {
		return DomainEvent{}, fmt.Errorf("%w: %s %s", ErrAggregateDeleted, r.aggregateType, r.id)
	}
	event := NewDomainEvent(r.aggregateType, r.id, r.nextSequence(), eventType, payload)
	if err := agg.ApplyEvent(event); err != nil {
		return DomainEvent{}, err
	}
	r.uncommitted = append(r.uncommitted, event)
	return event, nil
}

// Replay rebuilds agg from a stream. A leading snapshot event seeds the state
// through Snapshotter; the remaining events are applied in order.
func Replay(agg Aggregate, stream Stream) error {
	r := agg.root()
	events := stream.Events
	if stream.StartsWithSnapshot() {
		s, ok := agg.(Snapshotter)
		if !ok {
			return fmt.Errorf("aggregate type %s cannot restore snapshots", r.aggregateType)
		}
		if err := s.RestoreSnapshot(events[0]); err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		r.lastCommitted = events[0].SequenceNumber
		events = events[1:]
	}
	for i := range events {
		e := events[i]
		if e.SequenceNumber != r.lastCommitted+1 {
			return fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedSequence, r.lastCommitted+1, e.SequenceNumber)
		}
		if err := agg.ApplyEvent(e); err != nil {
			return fmt.Errorf("failed to apply event %d: %w", e.SequenceNumber, err)
		}
		r.lastCommitted = e.SequenceNumber
	}
	return nil
}

// AggregateFactory creates empty aggregate instances for rebuilding.
type AggregateFactory interface {
	AggregateType() string
	NewAggregate(id string) Aggregate
}

type funcFactory struct {
	aggregateType string
	newFn         func(id string) Aggregate
}

// NewFactory returns an AggregateFactory backed by a constructor function.
func NewFactory(aggregateType string, newFn func(id string) Aggregate) AggregateFactory {
	return funcFactory{aggregateType: aggregateType, newFn: newFn}
}

func (f funcFactory) AggregateType() string { return f.aggregateType }

func (f funcFactory) NewAggregate(id string) Aggregate { return f.newFn(id) }
