package disruptor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/store"
)

// Repository loads and creates aggregates of one type for one invoker.
//
// It is confined to its invoker goroutine. The first-level cache is a bounded LRU;
// the shared cache is consulted before rebuilding an aggregate from the event store.
// Keys removed from the shared cache by anyone are dropped from the first-level
// cache before the next fetch. Handlers reach it through RepositoryFrom.
type Repository struct {
	factory    es.AggregateFactory
	eventStore store.EventStore
	shared     cache.Cache
	logger     es.Logger
	firstLevel *cache.LRU[string, es.Aggregate]
	stale      []string
	staleMu    sync.Mutex
	segment    int
}

func newRepository(segment int, factory es.AggregateFactory, eventStore store.EventStore, shared cache.Cache, cacheSize int, logger es.Logger) *Repository {
	r := &Repository{
		factory:    factory,
		eventStore: eventStore,
		shared:     shared,
		logger:     logger,
		firstLevel: cache.NewLRU[string, es.Aggregate](cacheSize, nil),
		segment:    segment,
	}
	shared.RegisterListener(r.onSharedEntry)
	return r
}

// onSharedEntry may run on any goroutine, so it only queues the key for the invoker.
func (r *Repository) onSharedEntry(e cache.EntryEvent) {
	if e.Kind != cache.EntryRemoved {
		return
	}
	r.staleMu.Lock()
	r.stale = append(r.stale, e.Key)
	r.staleMu.Unlock()
}

func (r *Repository) dropStale() {
	r.staleMu.Lock()
	stale := r.stale
	r.stale = nil
	r.staleMu.Unlock()
	for _, id := range stale {
		r.firstLevel.Remove(id)
	}
}

// AggregateType returns the type of aggregates this repository manages.
func (r *Repository) AggregateType() string {
	return r.factory.AggregateType()
}

// Load returns the aggregate with id, checking the version the command expects
// when id is the command's target.
func (r *Repository) Load(ctx context.Context, id string) (es.Aggregate, error) {
	uow, ok := UnitOfWorkFrom(ctx)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	var expected es.ExpectedVersion
	if uow.target.AggregateID == id {
		expected = uow.target.ExpectedVersion
	}
	return r.LoadVersion(ctx, id, expected)
}

// LoadVersion returns the aggregate with id if it is at the expected version.
func (r *Repository) LoadVersion(ctx context.Context, id string, expected es.ExpectedVersion) (es.Aggregate, error) {
	uow, ok := UnitOfWorkFrom(ctx)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	if current := uow.Aggregate(); current != nil && current.AggregateID() == id && current.AggregateType() == r.AggregateType() {
		return current, nil
	}

	agg, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if agg.IsDeleted() {
		return nil, fmt.Errorf("%w: %s %s", es.ErrAggregateDeleted, r.AggregateType(), id)
	}
	if !expected.Matches(agg.Version()) {
		return nil, &ConflictingVersionError{AggregateID: id, Expected: expected, Actual: agg.Version()}
	}
	if err := uow.RegisterAggregate(agg); err != nil {
		return nil, err
	}
	r.track(uow, agg)
	return agg, nil
}

// New creates an aggregate with id and registers it with the unit of work.
// It becomes visible to later commands once the invocation commits.
func (r *Repository) New(ctx context.Context, id string) (es.Aggregate, error) {
	uow, ok := UnitOfWorkFrom(ctx)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	agg := r.factory.NewAggregate(id)
	if err := uow.RegisterAggregate(agg); err != nil {
		return nil, err
	}
	r.track(uow, agg)
	return agg, nil
}

// track caches agg when the invocation commits and evicts it when it rolls back.
func (r *Repository) track(uow *UnitOfWork, agg es.Aggregate) {
	id := agg.AggregateID()
	uow.OnInvocationCommit(func() {
		r.firstLevel.Put(id, agg)
		if err := r.shared.Put(context.Background(), id, agg); err != nil {
			r.logger.Error(context.Background(), "shared cache put failed", "segment", r.segment, "aggregate_id", id, "error", err)
		}
	})
	uow.OnInvocationRollback(func(error) {
		r.evict(id)
	})
}

func (r *Repository) fetch(ctx context.Context, id string) (es.Aggregate, error) {
	r.dropStale()
	if agg, ok := r.firstLevel.Get(id); ok {
		return agg, nil
	}

	agg, ok, err := r.shared.Get(ctx, id)
	if err != nil {
		r.logger.Error(ctx, "shared cache get failed", "segment", r.segment, "aggregate_id", id, "error", err)
	}
	if ok && agg.AggregateType() == r.AggregateType() {
		r.firstLevel.Put(id, agg)
		return agg, nil
	}

	stream, err := r.eventStore.ReadEvents(ctx, r.AggregateType(), id)
	if errors.Is(err, store.ErrStreamNotFound) {
		return nil, &AggregateNotFoundError{AggregateType: r.AggregateType(), AggregateID: id, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", r.AggregateType(), id, err)
	}
	if stream.IsEmpty() {
		return nil, &AggregateNotFoundError{AggregateType: r.AggregateType(), AggregateID: id, Err: store.ErrStreamNotFound}
	}

	agg = r.factory.NewAggregate(id)
	if err := es.Replay(agg, stream); err != nil {
		return nil, fmt.Errorf("failed to rebuild %s %s: %w", r.AggregateType(), id, err)
	}
	r.firstLevel.Put(id, agg)
	r.logger.Debug(ctx, "aggregate rebuilt from event store",
		"segment", r.segment, "aggregate_id", id, "events", stream.Len(), "version", agg.Version())
	return agg, nil
}

// evict drops id from both cache levels.
func (r *Repository) evict(id string) {
	r.firstLevel.Remove(id)
	if err := r.shared.Remove(context.Background(), id); err != nil {
		r.logger.Error(context.Background(), "shared cache remove failed", "segment", r.segment, "aggregate_id", id, "error", err)
	}
}

type repositoriesKey struct{}

func contextWithRepositories(ctx context.Context, repos map[string]*Repository) context.Context {
	return context.WithValue(ctx, repositoriesKey{}, repos)
}

// RepositoryFrom returns the repository for aggregateType of the invoker handling the current command.
func RepositoryFrom(ctx context.Context, aggregateType string) (*Repository, error) {
	repos, ok := ctx.Value(repositoriesKey{}).(map[string]*Repository)
	if !ok {
		return nil, ErrNoUnitOfWork
	}
	repo, ok := repos[aggregateType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, aggregateType)
	}
	return repo, nil
}

// LoadAggregate loads an aggregate through the current invoker's repository and asserts its type.
func LoadAggregate[A es.Aggregate](ctx context.Context, aggregateType, id string) (A, error) {
	var zero A
	repo, err := RepositoryFrom(ctx, aggregateType)
	if err != nil {
		return zero, err
	}
	agg, err := repo.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := agg.(A)
	if !ok {
		return zero, fmt.Errorf("aggregate %s is %T, not %T", id, agg, zero)
	}
	return typed, nil
}

// NewAggregate creates an aggregate through the current invoker's repository and asserts its type.
func NewAggregate[A es.Aggregate](ctx context.Context, aggregateType, id string) (A, error) {
	var zero A
	repo, err := RepositoryFrom(ctx, aggregateType)
	if err != nil {
		return zero, err
	}
	agg, err := repo.New(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := agg.(A)
	if !ok {
		return zero, fmt.Errorf("aggregate %s is %T, not %T", id, agg, zero)
	}
	return typed, nil
}
