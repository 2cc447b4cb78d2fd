package interceptors

import (
	"context"
	"errors"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/disruptor"
	"github.com/getpup/pupcommand/es/store"
)

// SnapshotInterceptor stores a snapshot of the handled aggregate each time its
// stream crosses a multiple of the threshold. Register it as an invocation interceptor.
//
// The snapshot is captured on the invoker, where the aggregate is owned, and
// appended after the unit of work committed its events.
type SnapshotInterceptor struct {
	store     store.SnapshotStore
	logger    es.Logger
	threshold int64
}

var _ command.HandlerInterceptor = (*SnapshotInterceptor)(nil)

// NewSnapshotInterceptor creates a SnapshotInterceptor. threshold below 1 is treated as 1.
func NewSnapshotInterceptor(s store.SnapshotStore, threshold int64, logger es.Logger) *SnapshotInterceptor {
	if threshold < 1 {
		threshold = 1
	}
	return &SnapshotInterceptor{store: s, threshold: threshold, logger: es.LoggerOrNoOp(logger)}
}

// Handle implements command.HandlerInterceptor.
func (s *SnapshotInterceptor) Handle(ctx context.Context, _ command.Command, chain *command.InterceptorChain) (any, error) {
	if uow, ok := disruptor.UnitOfWorkFrom(ctx); ok {
		uow.OnInvocationCommit(func() { s.capture(ctx, uow) })
	}
	return chain.Proceed(ctx)
}

func (s *SnapshotInterceptor) capture(ctx context.Context, uow *disruptor.UnitOfWork) {
	agg := uow.Aggregate()
	events := uow.EventsToStore()
	if agg == nil || len(events) == 0 {
		return
	}
	if (agg.Version()+1)/s.threshold == events[0].SequenceNumber/s.threshold {
		return
	}

	snap, err := es.TakeSnapshot(agg, agg.AggregateType()+"Snapshot")
	if errors.Is(err, es.ErrSnapshotUnsupported) {
		s.logger.Debug(ctx, "aggregate does not support snapshots", "aggregate_type", agg.AggregateType())
		return
	}
	if err != nil {
		s.logger.Error(ctx, "snapshot failed", "aggregate_id", agg.AggregateID(), "error", err)
		return
	}

	uow.AfterCommit(func(ctx context.Context) {
		if err := s.store.AppendSnapshot(ctx, snap.AggregateType, snap); err != nil {
			s.logger.Error(ctx, "failed to store snapshot",
				"aggregate_type", snap.AggregateType, "aggregate_id", snap.AggregateID, "error", err)
			return
		}
		s.logger.Debug(ctx, "snapshot stored",
			"aggregate_type", snap.AggregateType, "aggregate_id", snap.AggregateID, "sequence", snap.SequenceNumber)
	})
}
