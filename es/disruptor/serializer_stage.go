package disruptor

import (
	"github.com/google/uuid"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/serializer"
)

// serializerStage pre-serializes the events of committed invocations so the
// publisher does not have to.
type serializerStage struct {
	serializer     serializer.Serializer
	logger         es.Logger
	representation string
	segment        int
}

// OnEvent implements ringbuffer.EventHandler.
func (s *serializerStage) OnEvent(entry *CommandHandlingEntry, sequence int64, _ bool) error {
	if entry.IsRecoverEntry() || entry.SerializerSegment() != s.segment {
		return nil
	}
	// The store and publish queues hold separate copies of each event; both get the encoding.
	encoded := make(map[uuid.UUID][]byte)
	s.fill(entry, sequence, entry.uow.EventsToStore(), encoded)
	s.fill(entry, sequence, entry.uow.EventsToPublish(), encoded)
	return nil
}

func (s *serializerStage) fill(entry *CommandHandlingEntry, sequence int64, events []es.DomainEvent, encoded map[uuid.UUID][]byte) {
	for i := range events {
		e := &events[i]
		if _, ok := e.SerializedPayload(s.representation); ok {
			continue
		}
		data, ok := encoded[e.EventID]
		if !ok {
			obj, err := s.serializer.Serialize(e.Payload, s.representation)
			if err != nil {
				// The publisher serializes on its own when no cached form exists.
				s.logger.Error(entry.ctx, "pre-serialization failed",
					"segment", s.segment, "sequence", sequence, "aggregate_id", e.AggregateID, "error", err)
				continue
			}
			data = obj.Data
			encoded[e.EventID] = data
		}
		e.CacheSerializedPayload(s.representation, data)
	}
}
