// Package store provides event store abstractions.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/pupcommand/es"
)

var (
	// ErrOptimisticConcurrency indicates a sequence conflict during append.
	ErrOptimisticConcurrency = errors.New("optimistic concurrency conflict")

	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")

	// ErrStreamNotFound indicates that no events exist for the requested aggregate.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrMixedAggregates indicates an append batch spanning more than one aggregate instance.
	ErrMixedAggregates = errors.New("events belong to different aggregates")
)

// EventStore persists and loads aggregate event streams.
type EventStore interface {
	// AppendEvents atomically appends events of one aggregate type.
	// Each aggregate's events must continue its stream without gaps: the first new
	// event carries the sequence number following the stored head.
	//
	// Returns ErrOptimisticConcurrency if a stored event already occupies one of the
	// sequence numbers, and ErrNoEvents if events is empty.
	AppendEvents(ctx context.Context, aggregateType string, events []es.DomainEvent) error

	// ReadEvents returns the stream of one aggregate, ordered by sequence number.
	// When a snapshot exists the stream starts with it and continues with later events.
	// Returns ErrStreamNotFound if the aggregate has no events.
	ReadEvents(ctx context.Context, aggregateType, aggregateID string) (es.Stream, error)
}

// SnapshotStore is implemented by event stores that can persist snapshot events.
type SnapshotStore interface {
	// AppendSnapshot stores event as the latest snapshot of its aggregate,
	// replacing any previous one.
	AppendSnapshot(ctx context.Context, aggregateType string, event es.DomainEvent) error
}

// ValidateBatch checks that events is non-empty, targets one aggregate type and
// is contiguous per aggregate instance.
// It returns the first sequence number of every aggregate in the batch.
func ValidateBatch(aggregateType string, events []es.DomainEvent) (map[string]int64, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	first := make(map[string]int64)
	last := make(map[string]int64)
	for i := range events {
		e := &events[i]
		if e.AggregateType != aggregateType {
			return nil, fmt.Errorf("%w: expected type %s, got %s", ErrMixedAggregates, aggregateType, e.AggregateType)
		}
		prev, seen := last[e.AggregateID]
		if !seen {
			first[e.AggregateID] = e.SequenceNumber
		} else if e.SequenceNumber != prev+1 {
			return nil, fmt.Errorf("%w: aggregate %s sequence %d follows %d", ErrOptimisticConcurrency, e.AggregateID, e.SequenceNumber, prev)
		}
		last[e.AggregateID] = e.SequenceNumber
	}
	return first, nil
}
