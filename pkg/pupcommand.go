// Package pupcommand is the entry point of the pupcommand library.
//
// The library is organized under the es package:
//
//	es                   - Aggregates, domain events and streams
//	es/command           - Commands, handlers, callbacks and target resolution
//	es/disruptor         - The ring-buffer command bus
//	es/store             - Event store abstractions and the in-memory store
//	es/adapters/...      - SQLite, PostgreSQL and MySQL event stores
//	es/migrations        - Migration generation
//
// Quick Start:
//
//	bus, eventStore, err := pupcommand.NewInMemory(registry, disruptor.DefaultConfiguration(), factory)
//	if err != nil { ... }
//	defer bus.Stop(ctx)
//	result, err := bus.DispatchAndWait(ctx, command.New("OpenAccount", openAccount{ID: "acc-1"}))
//
// See the examples directory for complete working examples.
package pupcommand

import (
	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/disruptor"
	"github.com/getpup/pupcommand/es/store/memory"
)

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}

// NewInMemory creates and starts a command bus over a fresh in-memory event store.
func NewInMemory(registry command.HandlerRegistry, config disruptor.Configuration, factories ...es.AggregateFactory) (*disruptor.CommandBus, *memory.Store, error) {
	eventStore := memory.NewStore()
	bus, err := disruptor.NewCommandBus(eventStore, registry, config, factories...)
	if err != nil {
		return nil, nil, err
	}
	if err := bus.Start(); err != nil {
		return nil, nil, err
	}
	return bus, eventStore, nil
}
