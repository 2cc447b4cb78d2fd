// Package disruptor provides a command bus that handles commands for event-sourced
// aggregates on a ring buffer pipeline.
//
// Every dispatched command is written into a pre-allocated slot of the ring buffer
// and then passes three stages:
//
//   - invokers load the target aggregate through a Repository and run the handler,
//   - serializers (optional) encode the resulting events ahead of publication,
//   - publishers append the events to the event store, publish them on the event
//     bus and report the outcome to the command's callback.
//
// Each stage can run on several goroutines. Commands are routed to a segment of
// each stage by hashing the target aggregate id, so all commands for one aggregate
// are handled by the same invoker and publisher, in dispatch order, and aggregates
// never need locking.
//
// Invokers keep aggregates in a cache between commands. When storing fails after an
// invocation changed an aggregate, the cached state is ahead of the event store.
// The publisher then blacklists the aggregate and rejects further commands for it with
// an AggregateStateCorruptedError until a recovery entry has cleared the caches of
// every invoker.
//
// Basic usage:
//
//	registry := command.NewRegistry()
//	registry.RegisterFunc("OpenAccount", openAccount)
//
//	bus, err := disruptor.NewCommandBus(eventStore, registry, disruptor.NewConfiguration(
//	    disruptor.WithThreadCounts(4, 0, 2),
//	), es.NewFactory("Account", newAccount))
//	if err != nil {
//	    return err
//	}
//	if err := bus.Start(); err != nil {
//	    return err
//	}
//	defer bus.Stop(context.Background())
//
//	result, err := bus.DispatchAndWait(ctx, command.New("OpenAccount", OpenAccount{ID: "acc-1"}))
package disruptor
