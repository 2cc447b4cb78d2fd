package disruptor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/store/memory"
)

const accountType = "Account"

type account struct {
	es.AggregateRoot
	balance int
}

func newAccount(id string) es.Aggregate {
	return &account{AggregateRoot: es.NewAggregateRoot(accountType, id)}
}

func (a *account) ApplyEvent(e es.DomainEvent) error {
	if amount, ok := e.Payload.(int); ok {
		a.balance += amount
	}
	return nil
}

type openAccount struct {
	ID string
}

func (c openAccount) TargetAggregateID() string { return c.ID }

// untargetedOpen opens an account without telling the router which one.
type untargetedOpen struct {
	ID string
}

type deposit struct {
	ID     string
	Amount int
}

func (c deposit) TargetAggregateID() string { return c.ID }

type failingDeposit struct {
	Err    error
	ID     string
	Amount int
}

func (c failingDeposit) TargetAggregateID() string { return c.ID }

func openHandler(ctx context.Context, cmd command.Command) (any, error) {
	var id string
	switch p := cmd.Payload.(type) {
	case openAccount:
		id = p.ID
	case untargetedOpen:
		id = p.ID
	}
	acc, err := NewAggregate[*account](ctx, accountType, id)
	if err != nil {
		return nil, err
	}
	if _, err := es.Apply(acc, "AccountOpened", 0); err != nil {
		return nil, err
	}
	return id, nil
}

func depositHandler(ctx context.Context, cmd command.Command) (any, error) {
	p := cmd.Payload.(deposit)
	acc, err := LoadAggregate[*account](ctx, accountType, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := es.Apply(acc, "Deposited", p.Amount); err != nil {
		return nil, err
	}
	return acc.balance, nil
}

// failingDepositHandler applies the deposit and then fails with the payload's error.
func failingDepositHandler(ctx context.Context, cmd command.Command) (any, error) {
	p := cmd.Payload.(failingDeposit)
	acc, err := LoadAggregate[*account](ctx, accountType, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := es.Apply(acc, "Deposited", p.Amount); err != nil {
		return nil, err
	}
	return acc.balance, p.Err
}

func newRegistry(t *testing.T) *command.Registry {
	t.Helper()
	r := command.NewRegistry()
	require.NoError(t, r.RegisterFunc("OpenAccount", openHandler))
	require.NoError(t, r.RegisterFunc("Deposit", depositHandler))
	require.NoError(t, r.RegisterFunc("FailingDeposit", failingDepositHandler))
	return r
}

// scriptedStore lets a test intercept appends without holding the memory store's lock.
type scriptedStore struct {
	*memory.Store
	mu       sync.Mutex
	onAppend func(events []es.DomainEvent) error
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{Store: memory.NewStore()}
}

func (s *scriptedStore) setOnAppend(fn func(events []es.DomainEvent) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

func (s *scriptedStore) AppendEvents(ctx context.Context, aggregateType string, events []es.DomainEvent) error {
	s.mu.Lock()
	hook := s.onAppend
	s.mu.Unlock()
	if hook != nil {
		if err := hook(events); err != nil {
			return err
		}
	}
	return s.Store.AppendEvents(ctx, aggregateType, events)
}

func testConfig(opts ...Option) Configuration {
	base := []Option{
		WithBufferSize(64),
		WithCoolingDownPeriod(5 * time.Millisecond),
	}
	return NewConfiguration(append(base, opts...)...)
}

// startBus creates and starts a bus that is stopped when the test ends.
func startBus(t *testing.T, eventStore *scriptedStore, registry command.HandlerRegistry, config Configuration) *CommandBus {
	t.Helper()
	bus, err := NewCommandBus(eventStore, registry, config, es.NewFactory(accountType, newAccount))
	require.NoError(t, err)
	require.NoError(t, bus.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})
	return bus
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// openAndWait opens an account and fails the test if that does not succeed.
func openAndWait(t *testing.T, bus *CommandBus, id string) {
	t.Helper()
	_, err := bus.DispatchAndWait(waitCtx(t), command.New("OpenAccount", openAccount{ID: id}))
	require.NoError(t, err)
}

var errStoreDown = errors.New("store is down")
