// Package storetest runs the behavior every SQL event store dialect must share.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/adapters/sqlstore"
	"github.com/getpup/pupcommand/es/migrations"
	"github.com/getpup/pupcommand/es/serializer"
	"github.com/getpup/pupcommand/es/store"
	"github.com/getpup/pupcommand/es/txn"
)

// Harness describes the database under test.
type Harness struct {
	DB       *sql.DB
	Schema   func(config *migrations.Config) string
	NewStore func(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Store
}

// Deposited is the payload used by the suite.
type Deposited struct {
	Amount int `json:"amount" msgpack:"amount"`
}

const aggregateType = "Account"

// Types returns a registry that knows the suite's payloads.
func Types() *serializer.TypeRegistry {
	return serializer.NewTypeRegistry().MustRegister("Deposited", Deposited{})
}

// Events builds a contiguous batch of Deposited events for id.
func Events(id string, from, to int64) []es.DomainEvent {
	var out []es.DomainEvent
	for seq := from; seq <= to; seq++ {
		out = append(out, es.NewDomainEvent(aggregateType, id, seq, "Deposited", Deposited{Amount: int(seq) + 1}))
	}
	return out
}

// Reset recreates the event store tables.
func Reset(t *testing.T, h Harness) {
	t.Helper()

	for _, table := range []string{"snapshots", "aggregate_heads", "events"} {
		if _, err := h.DB.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			t.Fatalf("Failed to drop %s: %v", table, err)
		}
	}

	config := migrations.DefaultConfig()
	if _, err := h.DB.Exec(h.Schema(&config)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
}

// Run executes the suite. Every test starts from empty tables.
func Run(t *testing.T, h Harness) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"AppendAndRead", testAppendAndRead},
		{"MsgpackRepresentation", testMsgpack},
		{"AppendConflicts", testAppendConflicts},
		{"MultipleAggregates", testMultipleAggregates},
		{"ReadMissingStream", testReadMissing},
		{"Snapshots", testSnapshots},
		{"JoinsBoundTransaction", testJoinsTransaction},
		{"ReusesSerializedPayload", testReusesSerializedPayload},
		{"UniqueViolationIsConflict", testUniqueViolation},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			Reset(t, h)
			tt.fn(t, h)
		})
	}
}

func newStore(h Harness, representation string) *sqlstore.Store {
	return h.NewStore(h.DB, sqlstore.WithSerializer(serializer.New(Types()), representation))
}

func testAppendAndRead(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)

	batch := Events("a1", 0, 2)
	batch[1] = batch[1].WithMetadata(map[string]string{"correlation_id": "c-1"})
	if err := s.AppendEvents(ctx, aggregateType, batch); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 3, 3)); err != nil {
		t.Fatalf("Second append failed: %v", err)
	}

	stream, err := s.ReadEvents(ctx, aggregateType, "a1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if stream.Len() != 4 || stream.Version() != 3 {
		t.Fatalf("Expected 4 events at version 3, got %d at %d", stream.Len(), stream.Version())
	}

	got := stream.Events[1]
	if got.EventID != batch[1].EventID {
		t.Errorf("Expected event ID %s, got %s", batch[1].EventID, got.EventID)
	}
	if got.EventType != "Deposited" || got.AggregateType != aggregateType || got.AggregateID != "a1" {
		t.Errorf("Unexpected identity: %s %s %s", got.EventType, got.AggregateType, got.AggregateID)
	}
	if payload, ok := got.Payload.(Deposited); !ok || payload.Amount != 2 {
		t.Errorf("Expected Deposited{2}, got %#v", got.Payload)
	}
	if got.Metadata["correlation_id"] != "c-1" {
		t.Errorf("Expected metadata to round trip, got %v", got.Metadata)
	}
	if stream.Events[0].Metadata != nil {
		t.Errorf("Expected no metadata, got %v", stream.Events[0].Metadata)
	}
	want := batch[1].CreatedAt.Truncate(time.Millisecond)
	if !got.CreatedAt.Truncate(time.Millisecond).Equal(want) {
		t.Errorf("Expected created_at %v, got %v", want, got.CreatedAt)
	}
}

func testMsgpack(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.Msgpack)

	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	stream, err := s.ReadEvents(ctx, aggregateType, "a1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if payload, ok := stream.Events[1].Payload.(Deposited); !ok || payload.Amount != 2 {
		t.Errorf("Expected Deposited{2}, got %#v", stream.Events[1].Payload)
	}
}

func testAppendConflicts(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 1)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	tests := []struct {
		name      string
		events    []es.DomainEvent
		wantError error
	}{
		{name: "empty batch", events: nil, wantError: store.ErrNoEvents},
		{name: "duplicate sequence", events: Events("a1", 1, 2), wantError: store.ErrOptimisticConcurrency},
		{name: "gap", events: Events("a1", 3, 3), wantError: store.ErrOptimisticConcurrency},
		{name: "new stream not at zero", events: Events("a2", 1, 1), wantError: store.ErrOptimisticConcurrency},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := s.AppendEvents(ctx, aggregateType, tt.events)
			if !errors.Is(err, tt.wantError) {
				t.Errorf("Expected %v, got %v", tt.wantError, err)
			}
		})
	}

	stream, err := s.ReadEvents(ctx, aggregateType, "a1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if stream.Len() != 2 {
		t.Errorf("Failed appends must not change the stream, got %d events", stream.Len())
	}
}

func testMultipleAggregates(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)

	batch := append(Events("a1", 0, 1), Events("a2", 0, 2)...)
	if err := s.AppendEvents(ctx, aggregateType, batch); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	for id, version := range map[string]int64{"a1": 1, "a2": 2} {
		stream, err := s.ReadEvents(ctx, aggregateType, id)
		if err != nil {
			t.Fatalf("Read %s failed: %v", id, err)
		}
		if stream.Version() != version {
			t.Errorf("Expected %s at version %d, got %d", id, version, stream.Version())
		}
	}

	if err := s.AppendEvents(ctx, aggregateType, Events("a2", 3, 3)); err != nil {
		t.Errorf("Expected head of a2 to be tracked, got %v", err)
	}
}

func testReadMissing(t *testing.T, h Harness) {
	_, err := newStore(h, serializer.JSON).ReadEvents(context.Background(), aggregateType, "missing")
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Errorf("Expected ErrStreamNotFound, got %v", err)
	}
}

func testSnapshots(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ahead := es.NewDomainEvent(aggregateType, "a1", 4, "AccountSnapshot", Deposited{Amount: 100})
	if err := s.AppendSnapshot(ctx, aggregateType, ahead); err == nil {
		t.Error("Expected snapshot ahead of the stream to fail")
	}

	for _, seq := range []int64{1, 2} {
		snap := es.NewDomainEvent(aggregateType, "a1", seq, "AccountSnapshot", Deposited{Amount: 10 * int(seq)})
		if err := s.AppendSnapshot(ctx, aggregateType, snap); err != nil {
			t.Fatalf("Snapshot at %d failed: %v", seq, err)
		}
	}

	stream, err := s.ReadEvents(ctx, aggregateType, "a1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !stream.StartsWithSnapshot() {
		t.Fatal("Expected stream to start with the snapshot")
	}
	if stream.Len() != 2 || stream.Events[0].SequenceNumber != 2 || stream.Version() != 3 {
		t.Errorf("Expected snapshot at 2 followed by event 3, got %d events at %d", stream.Len(), stream.Version())
	}
	if payload, ok := stream.Events[0].Payload.(Deposited); !ok || payload.Amount != 20 {
		t.Errorf("Expected latest snapshot payload, got %#v", stream.Events[0].Payload)
	}
}

func testJoinsTransaction(t *testing.T, h Harness) {
	s := newStore(h, serializer.JSON)
	manager := txn.NewSQLTransactionManager(h.DB, nil)

	tx, ctx, err := manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	_, err = s.ReadEvents(context.Background(), aggregateType, "a1")
	if !errors.Is(err, store.ErrStreamNotFound) {
		t.Errorf("Expected rolled back append to leave no stream, got %v", err)
	}

	tx, ctx, err = manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := s.ReadEvents(context.Background(), aggregateType, "a1"); err != nil {
		t.Errorf("Expected committed append to be readable, got %v", err)
	}
}

func testReusesSerializedPayload(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)

	batch := Events("a1", 0, 0)
	batch[0].CacheSerializedPayload(serializer.JSON, []byte(`{"amount":99}`))
	if err := s.AppendEvents(ctx, aggregateType, batch); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	stream, err := s.ReadEvents(ctx, aggregateType, "a1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if payload, ok := stream.Events[0].Payload.(Deposited); !ok || payload.Amount != 99 {
		t.Errorf("Expected the cached encoding to be stored, got %#v", stream.Events[0].Payload)
	}
}

func testUniqueViolation(t *testing.T, h Harness) {
	ctx := context.Background()
	s := newStore(h, serializer.JSON)
	if err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// A stale head lets the append reach the events table constraint.
	if _, err := h.DB.Exec("DELETE FROM aggregate_heads"); err != nil {
		t.Fatalf("Failed to clear heads: %v", err)
	}

	err := s.AppendEvents(ctx, aggregateType, Events("a1", 0, 0))
	if !errors.Is(err, store.ErrOptimisticConcurrency) {
		t.Errorf("Expected ErrOptimisticConcurrency, got %v", err)
	}
}
