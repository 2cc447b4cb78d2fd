// Package memory provides an in-memory event store for tests, examples and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/store"
)

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// Store is a mutex-protected, map-backed event store.
type Store struct {
	streams   map[streamKey][]es.DomainEvent
	snapshots map[streamKey]es.DomainEvent
	appendErr func(aggregateType string, events []es.DomainEvent) error
	reads     atomic.Int64
	mu        sync.RWMutex
}

var (
	_ store.EventStore    = (*Store)(nil)
	_ store.SnapshotStore = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		streams:   make(map[streamKey][]es.DomainEvent),
		snapshots: make(map[streamKey]es.DomainEvent),
	}
}

// FailAppendsWith installs a hook consulted before every append; a non-nil error aborts it.
// Pass nil to remove the hook.
func (s *Store) FailAppendsWith(hook func(aggregateType string, events []es.DomainEvent) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = hook
}

// AppendEvents implements store.EventStore.
func (s *Store) AppendEvents(_ context.Context, aggregateType string, events []es.DomainEvent) error {
	first, err := store.ValidateBatch(aggregateType, events)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		if err := s.appendErr(aggregateType, events); err != nil {
			return err
		}
	}

	for id, seq := range first {
		key := streamKey{aggregateType, id}
		if head := s.headLocked(key); seq != head+1 {
			return fmt.Errorf("%w: aggregate %s is at %d, got event %d", store.ErrOptimisticConcurrency, id, head, seq)
		}
	}
	for i := range events {
		key := streamKey{aggregateType, events[i].AggregateID}
		s.streams[key] = append(s.streams[key], events[i])
	}
	return nil
}

// AppendSnapshot implements store.SnapshotStore.
func (s *Store) AppendSnapshot(_ context.Context, aggregateType string, event es.DomainEvent) error {
	key := streamKey{aggregateType, event.AggregateID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.SequenceNumber > s.headLocked(key) {
		return fmt.Errorf("snapshot at %d is ahead of aggregate %s", event.SequenceNumber, event.AggregateID)
	}
	event.Snapshot = true
	s.snapshots[key] = event
	return nil
}

// ReadEvents implements store.EventStore.
func (s *Store) ReadEvents(_ context.Context, aggregateType, aggregateID string) (es.Stream, error) {
	s.reads.Add(1)
	key := streamKey{aggregateType, aggregateID}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.streams[key]
	if len(events) == 0 {
		return es.Stream{}, fmt.Errorf("%w: %s %s", store.ErrStreamNotFound, aggregateType, aggregateID)
	}

	stream := es.Stream{AggregateType: aggregateType, AggregateID: aggregateID}
	from := 0
	if snap, ok := s.snapshots[key]; ok {
		stream.Events = append(stream.Events, snap)
		from = int(snap.SequenceNumber) + 1
	}
	stream.Events = append(stream.Events, events[from:]...)
	return stream, nil
}

// Events returns a copy of all stored events of one aggregate, ignoring snapshots.
func (s *Store) Events(aggregateType, aggregateID string) []es.DomainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.streams[streamKey{aggregateType, aggregateID}])
}

// ReadCount returns how many times ReadEvents was called.
func (s *Store) ReadCount() int64 {
	return s.reads.Load()
}

func (s *Store) headLocked(key streamKey) int64 {
	events := s.streams[key]
	if len(events) == 0 {
		return -1
	}
	return events[len(events)-1].SequenceNumber
}
