// Package redisbus publishes domain events to a Redis pub/sub channel.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/eventbus"
	"github.com/getpup/pupcommand/es/serializer"
)

// Config configures a Bus.
type Config struct {
	// Channel is the Redis channel events are published to.
	Channel string

	// Representation is the payload encoding. Payloads already pre-serialized in this
	// representation are sent as-is.
	Representation string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Channel:        "pupcommand:events",
		Representation: serializer.JSON,
	}
}

// Envelope is the wire form of a published event.
type Envelope struct {
	CreatedAt      time.Time                   `json:"created_at"`
	Metadata       map[string]string           `json:"metadata,omitempty"`
	AggregateType  string                      `json:"aggregate_type"`
	AggregateID    string                      `json:"aggregate_id"`
	EventType      string                      `json:"event_type"`
	Payload        serializer.SerializedObject `json:"payload"`
	SequenceNumber int64                       `json:"sequence_number"`
	EventID        uuid.UUID                   `json:"event_id"`
}

// Bus implements eventbus.EventBus on Redis pub/sub.
type Bus struct {
	client     redis.UniversalClient
	serializer serializer.Serializer
	logger     es.Logger
	config     Config
}

var _ eventbus.EventBus = (*Bus)(nil)

// New creates a Bus. logger may be nil.
func New(client redis.UniversalClient, ser serializer.Serializer, config Config, logger es.Logger) *Bus {
	return &Bus{
		client:     client,
		serializer: ser,
		logger:     es.LoggerOrNoOp(logger),
		config:     config,
	}
}

func (b *Bus) encode(event *es.DomainEvent) ([]byte, error) {
	obj := serializer.SerializedObject{Representation: b.config.Representation}
	if data, ok := event.SerializedPayload(b.config.Representation); ok {
		obj.Data = data
		if ser, ok := b.serializer.(*serializer.CodecSerializer); ok {
			obj.Type = ser.Types().NameOf(event.Payload)
		}
	} else {
		var err error
		if obj, err = b.serializer.Serialize(event.Payload, b.config.Representation); err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{
		EventID:        event.EventID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		SequenceNumber: event.SequenceNumber,
		EventType:      event.EventType,
		Metadata:       event.Metadata,
		CreatedAt:      event.CreatedAt,
		Payload:        obj,
	})
}

// Publish implements eventbus.EventBus. All events go out in one pipelined round trip.
func (b *Bus) Publish(ctx context.Context, events ...es.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([][]byte, len(events))
	for i := range events {
		raw, err := b.encode(&events[i])
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", events[i].EventID, err)
		}
		messages[i] = raw
	}
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, raw := range messages {
			p.Publish(ctx, b.config.Channel, raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Decode rebuilds a domain event from an envelope.
func (b *Bus) Decode(raw []byte) (es.DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return es.DomainEvent{}, fmt.Errorf("bad event envelope: %w", err)
	}
	payload, err := b.serializer.Deserialize(env.Payload)
	if err != nil {
		return es.DomainEvent{}, err
	}
	return es.DomainEvent{
		EventID:        env.EventID,
		AggregateType:  env.AggregateType,
		AggregateID:    env.AggregateID,
		SequenceNumber: env.SequenceNumber,
		EventType:      env.EventType,
		Metadata:       env.Metadata,
		CreatedAt:      env.CreatedAt,
		Payload:        payload,
	}, nil
}

// Subscribe forwards events published on the channel to l until ctx is done.
// It returns once the subscription is confirmed; forwarding runs on its own goroutine.
// Undecodable messages and listener errors are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, l eventbus.Listener) error {
	if l == nil {
		return errors.New("listener required")
	}
	sub := b.client.Subscribe(ctx, b.config.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				event, err := b.Decode([]byte(m.Payload))
				if err != nil {
					b.logger.Error(ctx, "dropping undecodable event", "channel", b.config.Channel, "error", err)
					continue
				}
				if err := l.Handle(ctx, event); err != nil {
					b.logger.Error(ctx, "listener failed", "listener", l.Name(), "event_id", event.EventID, "error", err)
				}
			}
		}
	}()
	return nil
}
