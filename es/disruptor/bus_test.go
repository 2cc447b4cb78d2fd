package disruptor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/eventbus"
	"github.com/getpup/pupcommand/es/serializer"
	"github.com/getpup/pupcommand/es/txn"
)

func TestCommandBus_StoresEventsAndReturnsResult(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig())

	openAndWait(t, bus, "acc-1")
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 10}))
	require.NoError(t, err)
	cmd := command.New("Deposit", deposit{ID: "acc-1", Amount: 5}).WithMetadata(map[string]string{"user": "alice"})
	result, err := bus.DispatchAndWait(waitCtx(t), cmd)
	require.NoError(t, err)
	assert.Equal(t, 15, result)

	events := eventStore.Events(accountType, "acc-1")
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, int64(2), last.SequenceNumber)
	assert.Equal(t, cmd.ID.String(), last.Metadata["command_id"])
	assert.Equal(t, "Deposit", last.Metadata["command_name"])
	assert.Equal(t, "alice", last.Metadata["user"])
}

func TestCommandBus_PreservesOrderPerAggregate(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(
		WithThreadCounts(4, 0, 3),
		WithCache(cache.NewMemoryCache()),
	))

	const aggregates, perAggregate = 12, 40
	for a := 0; a < aggregates; a++ {
		openAndWait(t, bus, fmt.Sprintf("acc-%d", a))
	}

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	cb := command.CallbackFuncs{
		Success: func(command.Command, any) { wg.Done() },
		Failure: func(command.Command, error) { failures.Add(1); wg.Done() },
	}
	wg.Add(aggregates * perAggregate)
	for a := 0; a < aggregates; a++ {
		a := a
		go func() {
			id := fmt.Sprintf("acc-%d", a)
			for i := 1; i <= perAggregate; i++ {
				bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: id, Amount: i}), cb)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	for a := 0; a < aggregates; a++ {
		events := eventStore.Events(accountType, fmt.Sprintf("acc-%d", a))
		require.Len(t, events, perAggregate+1)
		for i := 1; i <= perAggregate; i++ {
			assert.Equal(t, i, events[i].Payload, "acc-%d event %d", a, i)
			assert.Equal(t, int64(i), events[i].SequenceNumber)
		}
	}
}

func TestCommandBus_PublishesInCommitOrder(t *testing.T) {
	var (
		mu        sync.Mutex
		published []int64
	)
	bus := eventbus.NewSimpleEventBus(nil)
	require.NoError(t, bus.Subscribe(eventbus.ListenerFunc("recorder", func(_ context.Context, e es.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, e.SequenceNumber)
		return nil
	})))

	commandBus := startBus(t, newScriptedStore(), newRegistry(t), testConfig(WithEventBus(bus)))
	openAndWait(t, commandBus, "acc-1")
	futures := make([]*command.FutureCallback, 4)
	for i := range futures {
		futures[i] = command.NewFutureCallback()
		commandBus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}), futures[i])
	}
	for _, f := range futures {
		_, err := f.Wait(waitCtx(t))
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, published)
}

func TestCommandBus_CreateFollowedByUpdateOnOneSegment(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(WithBufferSize(8)))

	open := command.NewFutureCallback()
	dep := command.NewFutureCallback()
	bus.Dispatch(context.Background(), command.New("OpenAccount", openAccount{ID: "acc-1"}), open)
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 7}), dep)

	_, err := open.Wait(waitCtx(t))
	require.NoError(t, err)
	result, err := dep.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)
}

func TestCommandBus_RetriesUpdateRacingAConcurrentCreate(t *testing.T) {
	// The create cannot be routed and lands on invoker 0; the update lands on invoker 1
	// and reads the store before the create is stored.
	id := ""
	for i := 0; id == ""; i++ {
		if candidate := fmt.Sprintf("acc-%d", i); segmentFor(candidate, 2) == 1 {
			id = candidate
		}
	}

	eventStore := newScriptedStore()
	gate := make(chan struct{})
	eventStore.setOnAppend(func([]es.DomainEvent) error {
		<-gate
		return nil
	})

	var invocations atomic.Int64
	registry := newRegistry(t)
	require.NoError(t, registry.RegisterFunc("RacingDeposit", func(ctx context.Context, cmd command.Command) (any, error) {
		result, err := depositHandler(ctx, command.Command{Payload: cmd.Payload.(racingDeposit).deposit})
		if invocations.Add(1) == 1 {
			close(gate)
		}
		return result, err
	}))
	bus := startBus(t, eventStore, registry, testConfig(WithThreadCounts(2, 0, 1)))

	open := command.NewFutureCallback()
	dep := command.NewFutureCallback()
	bus.Dispatch(context.Background(), command.New("OpenAccount", untargetedOpen{ID: id}), open)
	bus.Dispatch(context.Background(), command.New("RacingDeposit", racingDeposit{deposit{ID: id, Amount: 3}}), dep)

	_, err := open.Wait(waitCtx(t))
	require.NoError(t, err)
	result, err := dep.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 3, result)
	assert.Equal(t, int64(2), invocations.Load())
	assert.Len(t, eventStore.Events(accountType, id), 2)
}

type racingDeposit struct {
	deposit
}

func TestCommandBus_SurfacesAggregateNotFoundAfterOneRetry(t *testing.T) {
	var invocations atomic.Int64
	registry := newRegistry(t)
	require.NoError(t, registry.RegisterFunc("CountedDeposit", func(ctx context.Context, cmd command.Command) (any, error) {
		invocations.Add(1)
		return depositHandler(ctx, command.Command{Payload: cmd.Payload.(racingDeposit).deposit})
	}))
	bus := startBus(t, newScriptedStore(), registry, testConfig())

	_, err := bus.DispatchAndWait(waitCtx(t), command.New("CountedDeposit", racingDeposit{deposit{ID: "missing", Amount: 1}}))

	var notFound *AggregateNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.AggregateID)
	assert.Equal(t, int64(2), invocations.Load())
}

func TestCommandBus_BusinessFailureRollsBackWithoutBlacklisting(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig())
	openAndWait(t, bus, "acc-1")

	errInsufficient := errors.New("insufficient funds")
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("FailingDeposit", failingDeposit{ID: "acc-1", Amount: 50, Err: errInsufficient}))
	assert.ErrorIs(t, err, errInsufficient)
	var blacklisted *AggregateBlacklistedError
	assert.False(t, errors.As(err, &blacklisted))

	result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, result, "the failed deposit must not leak into the cached aggregate")
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)
}

func TestCommandBus_CheckedErrorCommitsUnderDefaultPolicy(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig())
	openAndWait(t, bus, "acc-1")

	warn := command.Checked(errors.New("large deposit flagged"))
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("FailingDeposit", failingDeposit{ID: "acc-1", Amount: 5000, Err: warn}))
	assert.True(t, command.IsChecked(err))
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)
}

func TestCommandBus_BlacklistsAggregateAfterFailedCommitAndRecovers(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig())
	openAndWait(t, bus, "acc-1")

	release := make(chan struct{})
	var appends atomic.Int64
	eventStore.setOnAppend(func([]es.DomainEvent) error {
		if appends.Add(1) == 1 {
			<-release
			return errStoreDown
		}
		return nil
	})

	first := command.NewFutureCallback()
	second := command.NewFutureCallback()
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 10}), first)
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 20}), second)
	close(release)

	_, err := first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, errStoreDown)
	var blacklisted *AggregateBlacklistedError
	assert.False(t, errors.As(err, &blacklisted), "callers get the cause, not the blacklisting wrapper")

	_, err = second.Wait(waitCtx(t))
	var corrupted *AggregateStateCorruptedError
	require.ErrorAs(t, err, &corrupted)
	assert.Equal(t, "acc-1", corrupted.AggregateID)

	result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, result, "the aggregate is rebuilt from the store after recovery")
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)
}

func TestCommandBus_ReschedulesCommandsRejectedOnCorruptState(t *testing.T) {
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(WithRescheduleCommandsOnCorruptState(true)))
	openAndWait(t, bus, "acc-1")

	release := make(chan struct{})
	var appends atomic.Int64
	eventStore.setOnAppend(func([]es.DomainEvent) error {
		if appends.Add(1) == 1 {
			<-release
			return errStoreDown
		}
		return nil
	})

	first := command.NewFutureCallback()
	second := command.NewFutureCallback()
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 10}), first)
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 20}), second)
	close(release)

	_, err := first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, errStoreDown)

	result, err := second.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 20, result)
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)
}

func TestCommandBus_EntryReuseDoesNotLeakOutcomes(t *testing.T) {
	bus := startBus(t, newScriptedStore(), newRegistry(t), testConfig(WithBufferSize(4)))
	openAndWait(t, bus, "acc-1")

	errRejected := errors.New("rejected")
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			_, err := bus.DispatchAndWait(waitCtx(t), command.New("FailingDeposit", failingDeposit{ID: "acc-1", Amount: 100, Err: errRejected}))
			require.ErrorIs(t, err, errRejected)
			continue
		}
		result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, (i+1)/2, result)
	}
}

func TestCommandBus_PreSerializesPublishedEvents(t *testing.T) {
	var (
		mu      sync.Mutex
		encoded [][]byte
	)
	events := eventbus.NewSimpleEventBus(nil)
	require.NoError(t, events.Subscribe(eventbus.ListenerFunc("encoded", func(_ context.Context, e es.DomainEvent) error {
		data, ok := e.SerializedPayload(serializer.JSON)
		mu.Lock()
		defer mu.Unlock()
		if ok {
			encoded = append(encoded, data)
		}
		return nil
	})))

	bus := startBus(t, newScriptedStore(), newRegistry(t), testConfig(
		WithThreadCounts(2, 2, 1),
		WithPreSerialization(serializer.New(nil), serializer.JSON),
		WithEventBus(events),
	))
	openAndWait(t, bus, "acc-1")
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 42}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, encoded, 2)
	assert.Equal(t, "42", string(encoded[1]))
}

func TestCommandBus_StoresPreSerializedPayloads(t *testing.T) {
	var (
		mu     sync.Mutex
		cached []bool
	)
	eventStore := newScriptedStore()
	eventStore.setOnAppend(func(events []es.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for i := range events {
			_, ok := events[i].SerializedPayload(serializer.JSON)
			cached = append(cached, ok)
		}
		return nil
	})

	bus := startBus(t, eventStore, newRegistry(t), testConfig(
		WithThreadCounts(1, 1, 1),
		WithPreSerialization(serializer.New(nil), serializer.JSON),
	))
	openAndWait(t, bus, "acc-1")
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 7}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, true}, cached)
	stored := eventStore.Events(accountType, "acc-1")
	require.Len(t, stored, 2)
	data, ok := stored[1].SerializedPayload(serializer.JSON)
	require.True(t, ok)
	assert.Equal(t, "7", string(data))
}

func TestCommandBus_RecoversCorruptAggregateAcrossSegments(t *testing.T) {
	var (
		mu        sync.Mutex
		published []int
		sawUoW    []bool
	)
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(
		WithThreadCounts(3, 0, 3),
		WithPublicationInterceptors(command.HandlerInterceptorFunc(func(ctx context.Context, cmd command.Command, chain *command.InterceptorChain) (any, error) {
			_, ok := UnitOfWorkFrom(ctx)
			mu.Lock()
			sawUoW = append(sawUoW, ok)
			if d, isDeposit := cmd.Payload.(deposit); isDeposit {
				published = append(published, d.Amount)
			}
			mu.Unlock()
			return chain.Proceed(ctx)
		})),
	))

	ids := []string{"acc-1", "acc-2", "acc-3", "acc-4", "acc-5", "acc-6"}
	for _, id := range ids {
		openAndWait(t, bus, id)
	}

	release := make(chan struct{})
	var appends atomic.Int64
	eventStore.setOnAppend(func(events []es.DomainEvent) error {
		if events[0].AggregateID == "acc-1" && appends.Add(1) == 1 {
			<-release
			return errStoreDown
		}
		return nil
	})

	first := command.NewFutureCallback()
	second := command.NewFutureCallback()
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 10}), first)
	bus.Dispatch(context.Background(), command.New("Deposit", deposit{ID: "acc-1", Amount: 20}), second)
	close(release)

	_, err := first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, errStoreDown)
	_, err = second.Wait(waitCtx(t))
	var corrupted *AggregateStateCorruptedError
	require.ErrorAs(t, err, &corrupted)

	for _, id := range ids[1:] {
		result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: id, Amount: 5}))
		require.NoError(t, err, id)
		assert.Equal(t, 5, result, id)
	}
	result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, result, "the aggregate is rebuilt from the store after recovery")
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, published, 10)
	assert.NotContains(t, published, 20, "rejected commands skip the publication chain")
	assert.NotContains(t, sawUoW, false)
}

func TestCommandBus_SharedCacheRemovalInvalidatesInvokerCache(t *testing.T) {
	shared := cache.NewMemoryCache()
	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(WithCache(shared)))
	openAndWait(t, bus, "acc-1")
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 5}))
	require.NoError(t, err)

	// Another writer appends to the stream and invalidates the shared entry.
	external := es.NewDomainEvent(accountType, "acc-1", 2, "Deposited", 100)
	require.NoError(t, eventStore.Store.AppendEvents(context.Background(), accountType, []es.DomainEvent{external}))
	require.NoError(t, shared.Remove(context.Background(), "acc-1"))

	result, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
	require.NoError(t, err)
	assert.Equal(t, 106, result)
	assert.Len(t, eventStore.Events(accountType, "acc-1"), 4)
}

func TestCommandBus_InterceptorsWrapDispatchInvocationAndPublication(t *testing.T) {
	var (
		mu    sync.Mutex
		trace []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, s)
	}

	eventStore := newScriptedStore()
	bus := startBus(t, eventStore, newRegistry(t), testConfig(
		WithDispatchInterceptors(command.DispatchInterceptorFunc(func(_ context.Context, cmd command.Command) (command.Command, error) {
			record("dispatch")
			return cmd.WithMetadata(map[string]string{"tenant": "t1"}), nil
		})),
		WithInvocationInterceptors(command.HandlerInterceptorFunc(func(ctx context.Context, cmd command.Command, chain *command.InterceptorChain) (any, error) {
			uow, ok := UnitOfWorkFrom(ctx)
			if ok && uow.Phase() == PhaseStarted {
				record("invoke")
			}
			return chain.Proceed(ctx)
		})),
		WithPublicationInterceptors(command.HandlerInterceptorFunc(func(ctx context.Context, cmd command.Command, chain *command.InterceptorChain) (any, error) {
			result, err := chain.Proceed(ctx)
			record(fmt.Sprintf("publish:%v", result))
			return result, err
		})),
	))

	openAndWait(t, bus, "acc-1")

	mu.Lock()
	assert.Equal(t, []string{"dispatch", "invoke", "publish:acc-1"}, trace)
	mu.Unlock()
	assert.Equal(t, "t1", eventStore.Events(accountType, "acc-1")[0].Metadata["tenant"])
}

func TestCommandBus_DispatchInterceptorCanReject(t *testing.T) {
	errDenied := errors.New("denied")
	bus := startBus(t, newScriptedStore(), newRegistry(t), testConfig(
		WithDispatchInterceptors(command.DispatchInterceptorFunc(func(context.Context, command.Command) (command.Command, error) {
			return command.Command{}, errDenied
		})),
	))

	_, err := bus.DispatchAndWait(waitCtx(t), command.New("OpenAccount", openAccount{ID: "acc-1"}))
	assert.ErrorIs(t, err, errDenied)
}

func TestCommandBus_UnknownCommand(t *testing.T) {
	bus := startBus(t, newScriptedStore(), newRegistry(t), testConfig())

	_, err := bus.DispatchAndWait(waitCtx(t), command.New("CloseAccount", nil))
	var noHandler *command.NoHandlerForCommandError
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, "CloseAccount", noHandler.CommandName)
}

func TestCommandBus_VersionConflict(t *testing.T) {
	bus := startBus(t, newScriptedStore(), newRegistry(t), testConfig(
		WithTargetResolver(command.NewMetadataTargetResolver()),
	))

	open := command.New("OpenAccount", openAccount{ID: "acc-1"}).WithMetadata(map[string]string{"aggregate_id": "acc-1"})
	_, err := bus.DispatchAndWait(waitCtx(t), open)
	require.NoError(t, err)

	stale := command.New("Deposit", deposit{ID: "acc-1", Amount: 1}).
		WithMetadata(map[string]string{"aggregate_id": "acc-1", "expected_version": "3"})
	_, err = bus.DispatchAndWait(waitCtx(t), stale)
	var conflict *ConflictingVersionError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.Actual)

	current := command.New("Deposit", deposit{ID: "acc-1", Amount: 1}).
		WithMetadata(map[string]string{"aggregate_id": "acc-1", "expected_version": "0"})
	_, err = bus.DispatchAndWait(waitCtx(t), current)
	require.NoError(t, err)
}

type recordingTxManager struct {
	mu                             sync.Mutex
	started, committed, rolledBack int
}

type recordingTx struct {
	m *recordingTxManager
}

func (m *recordingTxManager) Start(ctx context.Context) (txn.Transaction, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return recordingTx{m}, ctx, nil
}

func (tx recordingTx) Commit() error {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	tx.m.committed++
	return nil
}

func (tx recordingTx) Rollback() error {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	tx.m.rolledBack++
	return nil
}

func (m *recordingTxManager) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.committed, m.rolledBack
}

func TestCommandBus_CommitsInsideTransaction(t *testing.T) {
	eventStore := newScriptedStore()
	tm := &recordingTxManager{}
	var transactional atomic.Bool
	bus := startBus(t, eventStore, newRegistry(t), testConfig(
		WithTransactionManager(tm),
		WithPublicationInterceptors(command.HandlerInterceptorFunc(func(ctx context.Context, _ command.Command, chain *command.InterceptorChain) (any, error) {
			if uow, ok := UnitOfWorkFrom(ctx); ok {
				uow.AfterCommit(func(context.Context) { transactional.Store(uow.IsTransactional()) })
			}
			return chain.Proceed(ctx)
		})),
	))

	openAndWait(t, bus, "acc-1")
	started, committed, rolledBack := tm.counts()
	assert.Equal(t, []int{1, 1, 0}, []int{started, committed, rolledBack})
	assert.True(t, transactional.Load())

	eventStore.setOnAppend(func([]es.DomainEvent) error { return errStoreDown })
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("Deposit", deposit{ID: "acc-1", Amount: 1}))
	assert.ErrorIs(t, err, errStoreDown)
	_, _, rolledBack = tm.counts()
	assert.Equal(t, 1, rolledBack)
}

func TestCommandBus_Lifecycle(t *testing.T) {
	bus, err := NewCommandBus(newScriptedStore(), newRegistry(t), testConfig(), es.NewFactory(accountType, newAccount))
	require.NoError(t, err)

	_, err = bus.DispatchAndWait(waitCtx(t), command.New("OpenAccount", openAccount{ID: "acc-1"}))
	assert.ErrorIs(t, err, ErrBusNotStarted)

	require.NoError(t, bus.Start())
	assert.Error(t, bus.Start())

	var delivered atomic.Int64
	cb := command.CallbackFuncs{
		Success: func(command.Command, any) { delivered.Add(1) },
		Failure: func(command.Command, error) { delivered.Add(1) },
	}
	const total = 100
	for i := 0; i < total; i++ {
		bus.Dispatch(context.Background(), command.New("OpenAccount", openAccount{ID: fmt.Sprintf("acc-%d", i)}), cb)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(ctx))
	assert.Equal(t, int64(total), delivered.Load(), "Stop waits for every dispatched command")
	assert.Zero(t, bus.InFlight())

	_, err = bus.DispatchAndWait(waitCtx(t), command.New("OpenAccount", openAccount{ID: "late"}))
	assert.ErrorIs(t, err, ErrBusStopped)
	assert.NoError(t, bus.Stop(ctx), "Stop is idempotent")
}

func TestNewCommandBus_RejectsInvalidSetup(t *testing.T) {
	registry := newRegistry(t)

	_, err := NewCommandBus(nil, registry, testConfig())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewCommandBus(newScriptedStore(), registry, testConfig(WithBufferSize(100)))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	factory := es.NewFactory(accountType, newAccount)
	_, err = NewCommandBus(newScriptedStore(), registry, testConfig(), factory, factory)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
