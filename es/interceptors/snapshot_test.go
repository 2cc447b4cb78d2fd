package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/disruptor"
	"github.com/getpup/pupcommand/es/store/memory"
)

const counterType = "Counter"

type counter struct {
	es.AggregateRoot
	total int
}

func newCounter(id string) es.Aggregate {
	return &counter{AggregateRoot: es.NewAggregateRoot(counterType, id)}
}

func (c *counter) ApplyEvent(e es.DomainEvent) error {
	c.total += e.Payload.(int)
	return nil
}

func (c *counter) SnapshotState() any { return c.total }

func (c *counter) RestoreSnapshot(e es.DomainEvent) error {
	c.total = e.Payload.(int)
	return nil
}

type increment struct {
	ID string
}

func (i increment) TargetAggregateID() string { return i.ID }

func incrementHandler(ctx context.Context, cmd command.Command) (any, error) {
	id := cmd.Payload.(increment).ID
	c, err := disruptor.LoadAggregate[*counter](ctx, counterType, id)
	if err != nil {
		var notFound *disruptor.AggregateNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		if c, err = disruptor.NewAggregate[*counter](ctx, counterType, id); err != nil {
			return nil, err
		}
	}
	if _, err := es.Apply(c, "Incremented", 1); err != nil {
		return nil, err
	}
	return c.total, nil
}

func TestSnapshotInterceptor(t *testing.T) {
	eventStore := memory.NewStore()
	registry := command.NewRegistry()
	require.NoError(t, registry.RegisterFunc("Increment", incrementHandler))

	config := disruptor.NewConfiguration(
		disruptor.WithBufferSize(16),
		disruptor.WithCoolingDownPeriod(5*time.Millisecond),
		disruptor.WithInvocationInterceptors(NewSnapshotInterceptor(eventStore, 3, nil)),
	)
	bus, err := disruptor.NewCommandBus(eventStore, registry, config, es.NewFactory(counterType, newCounter))
	require.NoError(t, err)
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 4; i++ {
		_, err := bus.DispatchAndWait(ctx, command.New("Increment", increment{ID: "c-1"}))
		require.NoError(t, err)
	}

	stream, err := eventStore.ReadEvents(ctx, counterType, "c-1")
	require.NoError(t, err)
	require.True(t, stream.StartsWithSnapshot())
	assert.Equal(t, int64(2), stream.Events[0].SequenceNumber)
	assert.Equal(t, 3, stream.Events[0].Payload)
	assert.Equal(t, int64(3), stream.Version())

	restored := newCounter("c-1")
	require.NoError(t, es.Replay(restored, stream))
	assert.Equal(t, 4, restored.(*counter).total)
}
