// Package eventbus publishes committed domain events to listeners.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/getpup/pupcommand/es"
)

// ErrDuplicateListener indicates a listener name that is already subscribed.
var ErrDuplicateListener = errors.New("listener already subscribed")

// EventBus publishes events after they were stored.
type EventBus interface {
	// Publish delivers events in order. An error means delivery is incomplete.
	Publish(ctx context.Context, events ...es.DomainEvent) error
}

// Listener receives published events.
type Listener interface {
	// Name returns the unique name of this listener.
	Name() string

	// Handle processes a single event.
	// Return an error to abort publication of the remaining events.
	//
	//nolint:gocritic // hugeParam: events are passed by value to keep them immutable
	Handle(ctx context.Context, event es.DomainEvent) error
}

// ScopedListener is a Listener that only receives events of specific aggregate types.
// An empty AggregateTypes list receives every event, like a plain Listener.
type ScopedListener interface {
	Listener

	// AggregateTypes returns the aggregate types this listener wants.
	AggregateTypes() []string
}

type listenerFunc struct {
	fn   func(ctx context.Context, event es.DomainEvent) error
	name string
}

func (l listenerFunc) Name() string { return l.name }

//nolint:gocritic // hugeParam: see Listener.Handle
func (l listenerFunc) Handle(ctx context.Context, event es.DomainEvent) error {
	return l.fn(ctx, event)
}

// ListenerFunc adapts a function to Listener.
func ListenerFunc(name string, fn func(ctx context.Context, event es.DomainEvent) error) Listener {
	return listenerFunc{name: name, fn: fn}
}

func accepts(l Listener, event *es.DomainEvent) bool {
	scoped, ok := l.(ScopedListener)
	if !ok {
		return true
	}
	types := scoped.AggregateTypes()
	return len(types) == 0 || slices.Contains(types, event.AggregateType)
}

// SimpleEventBus delivers events synchronously to subscribed listeners, in
// subscription order. Delivery stops at the first listener error.
type SimpleEventBus struct {
	logger    es.Logger
	listeners []Listener
	mu        sync.RWMutex
}

var _ EventBus = (*SimpleEventBus)(nil)

// NewSimpleEventBus creates an event bus. logger may be nil.
func NewSimpleEventBus(logger es.Logger) *SimpleEventBus {
	return &SimpleEventBus{logger: es.LoggerOrNoOp(logger)}
}

// Subscribe adds a listener.
func (b *SimpleEventBus) Subscribe(l Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners {
		if existing.Name() == l.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateListener, l.Name())
		}
	}
	b.listeners = append(b.listeners, l)
	return nil
}

// Unsubscribe removes the listener with the given name. It reports whether one was removed.
func (b *SimpleEventBus) Unsubscribe(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.Name() == name {
			b.listeners = slices.Delete(b.listeners, i, i+1)
			return true
		}
	}
	return false
}

// Publish implements EventBus.
func (b *SimpleEventBus) Publish(ctx context.Context, events ...es.DomainEvent) error {
	b.mu.RLock()
	listeners := slices.Clone(b.listeners)
	b.mu.RUnlock()

	for i := range events {
		event := &events[i]
		for _, l := range listeners {
			if !accepts(l, event) {
				continue
			}
			if err := l.Handle(ctx, *event); err != nil {
				b.logger.Error(ctx, "listener failed",
					"listener", l.Name(),
					"event_type", event.EventType,
					"aggregate_id", event.AggregateID,
					"error", err)
				return fmt.Errorf("listener %q failed on %s %d: %w", l.Name(), event.AggregateID, event.SequenceNumber, err)
			}
		}
	}
	return nil
}

// MultiBus publishes to several buses in order, stopping at the first error.
type MultiBus []EventBus

// Publish implements EventBus.
func (m MultiBus) Publish(ctx context.Context, events ...es.DomainEvent) error {
	for _, bus := range m {
		if err := bus.Publish(ctx, events...); err != nil {
			return err
		}
	}
	return nil
}
