// Package es provides the core event sourcing types of the command pipeline.
//
// # Overview
//
// This package defines the types every other package builds on:
//   - DomainEvent: immutable facts produced by aggregates
//   - Stream: the ordered history of one aggregate, optionally starting with a snapshot
//   - Aggregate and AggregateRoot: event-sourced state with uncommitted events
//   - ExpectedVersion: optimistic version checks for commands
//   - DBTX: database transaction abstraction shared by SQL event stores
//   - Logger: optional, structured logging
//
// # Design Philosophy
//
// Clean Architecture: Core interfaces are database-agnostic. Infrastructure
// concerns (SQLite, PostgreSQL, MySQL, Redis) are isolated in adapter packages.
//
// Single writer per aggregate: the command bus in es/disruptor routes every
// command for an aggregate to the same invoker, so aggregates need no locking.
//
// Immutability: Events are value objects. Once handed to the unit of work they
// are stored and published exactly as produced.
//
// # Quick Start
//
// 1. Define an aggregate:
//
//	type Account struct {
//	    es.AggregateRoot
//	    balance int
//	}
//
//	func (a *Account) ApplyEvent(e es.DomainEvent) error {
//	    a.balance += e.Payload.(Deposited).Amount
//	    return nil
//	}
//
// 2. Register handlers and start a bus:
//
//	registry := command.NewRegistry()
//	registry.RegisterFunc("Deposit", depositHandler)
//	bus, _ := disruptor.NewCommandBus(store, registry, disruptor.DefaultConfiguration(),
//	    es.NewFactory("Account", newAccount))
//	bus.Start()
//
// 3. Dispatch commands:
//
//	balance, err := bus.DispatchAndWait(ctx, command.New("Deposit", Deposit{ID: "acc-1", Amount: 10}))
//
// # Optimistic Concurrency
//
// Sequence numbers start at zero and are contiguous per aggregate.
// When appending events:
//   - The first event's sequence must be the stored head + 1
//   - Subsequent events must have sequential numbers
//   - Conflicts return store.ErrOptimisticConcurrency
//
// # Snapshots
//
// Aggregates implementing SnapshotSource and Snapshotter can be snapshotted with
// TakeSnapshot. Replay seeds an aggregate from a leading snapshot event and
// applies the events that follow it.
package es
