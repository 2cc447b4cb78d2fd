package disruptor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/ringbuffer"
	"github.com/getpup/pupcommand/es/store"
)

const (
	busCreated int32 = iota
	busRunning
	busStopping
	busHalted
)

// pipelineDeps are the collaborators shared by all stage handlers.
type pipelineDeps struct {
	eventStore store.EventStore
	executor   Executor
	factories  []es.AggregateFactory
}

// CommandBus dispatches commands through a ring buffer pipeline of invokers,
// optional serializers and publishers. Commands for the same aggregate are always
// handled by the same invoker and publisher, in dispatch order.
type CommandBus struct {
	registry     command.HandlerRegistry
	ring         *ringbuffer.RingBuffer[CommandHandlingEntry]
	pipeline     *ringbuffer.Pipeline[CommandHandlingEntry]
	executor     Executor
	logger       es.Logger
	router       router
	config       Configuration
	state        atomic.Int32
	inFlight     atomic.Int64
	mu           sync.RWMutex // held for reading while publishing; halting takes it for writing
	publishMu    sync.Mutex   // serializes producers when configured as single producer
	ownsExecutor bool
}

// NewCommandBus builds a command bus. The bus accepts commands after Start.
func NewCommandBus(eventStore store.EventStore, registry command.HandlerRegistry, config Configuration, factories ...es.AggregateFactory) (*CommandBus, error) {
	if eventStore == nil {
		return nil, fmt.Errorf("%w: event store is required", ErrInvalidConfiguration)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: handler registry is required", ErrInvalidConfiguration)
	}
	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(factories))
	for _, f := range factories {
		if _, dup := seen[f.AggregateType()]; dup {
			return nil, fmt.Errorf("%w: duplicate aggregate factory %q", ErrInvalidConfiguration, f.AggregateType())
		}
		seen[f.AggregateType()] = struct{}{}
	}

	ring, err := ringbuffer.New(config.BufferSize, config.ProducerType, config.WaitStrategy, initEntry)
	if err != nil {
		return nil, err
	}

	b := &CommandBus{
		registry: registry,
		ring:     ring,
		logger:   config.Logger,
		config:   config,
		executor: config.Executor,
	}
	if b.executor == nil {
		b.executor = NewPoolExecutor(config.ExecutorConcurrency, config.Logger)
		b.ownsExecutor = true
	}

	deps := pipelineDeps{eventStore: eventStore, executor: b.executor, factories: factories}
	serializers := 0
	if config.serializerStageEnabled() {
		serializers = config.SerializerThreadCount
	}
	b.router = router{
		resolver:    config.TargetResolver,
		invokers:    config.InvokerThreadCount,
		serializers: serializers,
		publishers:  config.PublisherThreadCount,
	}

	b.pipeline = ringbuffer.NewPipeline(ring, &exceptionLogger{logger: config.Logger}, nil)
	invokers := make([]ringbuffer.EventHandler[CommandHandlingEntry], config.InvokerThreadCount)
	for i := range invokers {
		invokers[i] = newInvoker(i, &b.config, deps)
	}
	group := b.pipeline.HandleEventsWith(invokers...)
	if serializers > 0 {
		stages := make([]ringbuffer.EventHandler[CommandHandlingEntry], serializers)
		for i := range stages {
			stages[i] = &serializerStage{
				serializer:     config.Serializer,
				logger:         config.Logger,
				representation: config.SerializedRepresentation,
				segment:        i,
			}
		}
		group = group.Then(stages...)
	}
	publishers := make([]ringbuffer.EventHandler[CommandHandlingEntry], config.PublisherThreadCount)
	for i := range publishers {
		publishers[i] = newPublisher(i, &b.config, deps, b.redispatch)
	}
	group.Then(publishers...)

	return b, nil
}

// Start launches the pipeline goroutines.
func (b *CommandBus) Start() error {
	if !b.state.CompareAndSwap(busCreated, busRunning) {
		return errors.New("command bus already started")
	}
	if err := b.pipeline.Start(); err != nil {
		b.state.Store(busHalted)
		return err
	}
	b.logger.Info(context.Background(), "command bus started",
		"buffer_size", b.config.BufferSize,
		"invokers", b.router.invokers,
		"serializers", b.router.serializers,
		"publishers", b.router.publishers)
	return nil
}

// Dispatch hands cmd to the pipeline. The outcome is reported to cb exactly once,
// on an executor goroutine unless the command is rejected before entering the pipeline.
// A nil cb discards the outcome.
func (b *CommandBus) Dispatch(ctx context.Context, cmd command.Command, cb command.Callback) {
	if cb == nil {
		cb = command.NoOpCallback{}
	}
	switch b.state.Load() {
	case busCreated:
		cb.OnFailure(cmd, ErrBusNotStarted)
		return
	case busStopping, busHalted:
		cb.OnFailure(cmd, ErrBusStopped)
		return
	}

	for _, i := range b.config.DispatchInterceptors {
		var err error
		if cmd, err = i.BeforeDispatch(ctx, cmd); err != nil {
			cb.OnFailure(cmd, err)
			return
		}
	}
	handler, err := b.registry.Resolve(cmd.Name)
	if err != nil {
		cb.OnFailure(cmd, err)
		return
	}

	// Accepted commands count as in flight until their callback is invoked.
	b.inFlight.Add(1)
	wrapped := &blacklistCallback{bus: b, ctx: context.WithoutCancel(ctx), delegate: cb}
	if !b.tryPublish(wrapped.ctx, cmd, handler, wrapped, busRunning) {
		b.inFlight.Add(-1)
		cb.OnFailure(cmd, ErrBusStopped)
	}
}

// DispatchAndWait dispatches cmd and waits for its outcome or for ctx to be done.
// The command keeps running if ctx is done first.
func (b *CommandBus) DispatchAndWait(ctx context.Context, cmd command.Command) (any, error) {
	future := command.NewFutureCallback()
	b.Dispatch(ctx, cmd, future)
	return future.Wait(ctx)
}

// redispatch puts a command that already went through the pipeline back into it.
// It is allowed while the bus is stopping, so rescheduled commands complete.
func (b *CommandBus) redispatch(ctx context.Context, cmd command.Command, cb command.Callback) {
	handler, err := b.registry.Resolve(cmd.Name)
	if err != nil {
		cb.OnFailure(cmd, err)
		return
	}
	b.logger.Debug(ctx, "redispatching command", "command", cmd.Name, "command_id", cmd.ID.String())
	if !b.tryPublish(ctx, cmd, handler, cb, busRunning, busStopping) {
		cb.OnFailure(cmd, ErrBusStopped)
	}
}

// tryPublish publishes cmd if the bus is in one of the allowed states.
func (b *CommandBus) tryPublish(ctx context.Context, cmd command.Command, handler command.Handler, cb command.Callback, allowed ...int32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !slices.Contains(allowed, b.state.Load()) {
		return false
	}
	r := b.router.routeFor(cmd)
	b.lockProducer()
	defer b.unlockProducer()
	b.ring.PublishEvent(func(e *CommandHandlingEntry, _ int64) {
		e.Reset(ctx, cmd, handler, r, cb, b.config.InvocationInterceptors, b.config.PublicationInterceptors)
	})
	return true
}

// publishRecovery asks every invoker to drop its cached state of aggregateID and
// every publisher to lift its blacklisting.
func (b *CommandBus) publishRecovery(aggregateID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.Load() == busHalted {
		return
	}
	b.logger.Info(context.Background(), "publishing recovery entry", "aggregate_id", aggregateID)
	b.lockProducer()
	defer b.unlockProducer()
	b.ring.PublishEvent(func(e *CommandHandlingEntry, _ int64) {
		e.ResetAsRecoverEntry(aggregateID)
	})
}

// Dispatch, redispatch and recovery run on different goroutines, so a single
// producer ring needs them serialized.
func (b *CommandBus) lockProducer() {
	if b.config.ProducerType == ringbuffer.SingleProducer {
		b.publishMu.Lock()
	}
}

func (b *CommandBus) unlockProducer() {
	if b.config.ProducerType == ringbuffer.SingleProducer {
		b.publishMu.Unlock()
	}
}

// commandDone is called when a dispatched command reports its final outcome.
func (b *CommandBus) commandDone() {
	b.inFlight.Add(-1)
}

// Stop stops accepting commands, waits for the dispatched ones to finish and halts
// the pipeline. If ctx is done first, the pipeline is halted anyway and ctx.Err()
// is returned; commands still in flight then never report an outcome.
func (b *CommandBus) Stop(ctx context.Context) error {
	if b.state.CompareAndSwap(busCreated, busHalted) {
		return nil
	}
	if !b.state.CompareAndSwap(busRunning, busStopping) {
		return nil
	}
	b.logger.Info(ctx, "command bus stopping", "in_flight", b.inFlight.Load())

	drainErr := b.awaitDrained(ctx)

	b.mu.Lock()
	b.state.Store(busHalted)
	b.mu.Unlock()
	b.pipeline.Halt()

	var errs []error
	if drainErr != nil {
		errs = append(errs, drainErr)
	}
	if b.ownsExecutor {
		if err := b.executor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("executor shutdown: %w", err))
		}
	}
	b.logger.Info(context.Background(), "command bus stopped", "in_flight", b.inFlight.Load())
	return errors.Join(errs...)
}

func (b *CommandBus) awaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(b.config.CoolingDownPeriod)
	defer ticker.Stop()

	last := b.ring.Cursor()
	for {
		cursor := b.ring.Cursor()
		if cursor == last && b.pipeline.MinimumProcessedSequence() >= cursor && b.inFlight.Load() == 0 {
			return nil
		}
		last = cursor
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// InFlight returns the number of dispatched commands that did not report an outcome yet.
func (b *CommandBus) InFlight() int64 {
	return b.inFlight.Load()
}

// exceptionLogger logs errors raised by stage handlers. The pipeline continues
// with the next entry.
type exceptionLogger struct {
	logger es.Logger
}

func (h *exceptionLogger) HandleEventException(err error, sequence int64, entry *CommandHandlingEntry) {
	keyvals := []interface{}{"sequence", sequence, "error", err}
	if entry != nil && !entry.IsRecoverEntry() {
		keyvals = append(keyvals, "command", entry.command.Name, "segment", entry.InvokerSegment())
	}
	h.logger.Error(context.Background(), "pipeline handler failed", keyvals...)
}

func (h *exceptionLogger) HandleOnStartException(err error) {
	h.logger.Error(context.Background(), "pipeline handler failed to start", "error", err)
}

func (h *exceptionLogger) HandleOnShutdownException(err error) {
	h.logger.Error(context.Background(), "pipeline handler failed to shut down", "error", err)
}
