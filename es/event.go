// Package es provides core event sourcing interfaces and types.
package es

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// DomainEvent represents an immutable fact produced by an aggregate.
// SequenceNumber is zero-based and contiguous per aggregate instance.
type DomainEvent struct {
	// CreatedAt is when the event was created
	CreatedAt time.Time

	// Payload contains the event data in its in-memory form
	Payload any

	// Metadata carries correlation and tracing values
	Metadata map[string]string

	// serialized caches payload encodings per representation.
	// Filled by the pre-serialization stage, read by the publisher stage.
	serialized map[string][]byte

	// AggregateType identifies the type of aggregate this event belongs to
	AggregateType string

	// AggregateID uniquely identifies the aggregate instance
	AggregateID string

	// EventType identifies the type of event
	EventType string

	// SequenceNumber is the position of this event in the aggregate's stream
	SequenceNumber int64

	// EventID is a unique identifier for this event
	EventID uuid.UUID

	// Snapshot marks an event that carries the full aggregate state up to SequenceNumber
	Snapshot bool
}

// NewDomainEvent creates an event for the given aggregate and sequence number.
func NewDomainEvent(aggregateType, aggregateID string, sequence int64, eventType string, payload any) DomainEvent {
	return DomainEvent{
		EventID:        uuid.New(),
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		SequenceNumber: sequence,
		EventType:      eventType,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
}

// WithMetadata returns a copy of the event with the given metadata merged in.
func (e DomainEvent) WithMetadata(md map[string]string) DomainEvent {
	merged := make(map[string]string, len(e.Metadata)+len(md))
	maps.Copy(merged, e.Metadata)
	maps.Copy(merged, md)
	e.Metadata = merged
	return e
}

// SerializedPayload returns the cached encoding for representation, if any.
func (e *DomainEvent) SerializedPayload(representation string) ([]byte, bool) {
	data, ok := e.serialized[representation]
	return data, ok
}

// CacheSerializedPayload stores an encoding of the payload for later reuse.
// It is called from the serializer stage only, before the publisher stage reads the event.
func (e *DomainEvent) CacheSerializedPayload(representation string, data []byte) {
	if e.serialized == nil {
		e.serialized = make(map[string][]byte, 1)
	}
	e.serialized[representation] = data
}

// Stream is the ordered event history of one aggregate.
type Stream struct {
	AggregateType string
	AggregateID   string
	Events        []DomainEvent
}

// Version returns the sequence number of the last event, or -1 for an empty stream.
func (s Stream) Version() int64 {
	if len(s.Events) == 0 {
		return -1
	}
	return s.Events[len(s.Events)-1].SequenceNumber
}

// IsEmpty reports whether the stream has no events.
func (s Stream) IsEmpty() bool {
	return len(s.Events) == 0
}

// Len returns the number of events in the stream.
func (s Stream) Len() int {
	return len(s.Events)
}

// StartsWithSnapshot reports whether the first event is a snapshot.
func (s Stream) StartsWithSnapshot() bool {
	return len(s.Events) > 0 && s.Events[0].Snapshot
}
