// Package sqlstore implements the event store on database/sql.
//
// The sqlite, postgres and mysql adapters supply a Dialect and construct a Store.
// Appends join the transaction bound to the context with es.ContextWithDBTX
// (see txn.SQLTransactionManager) and open their own otherwise.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/serializer"
	"github.com/getpup/pupcommand/es/store"
)

// Dialect hides the SQL differences between databases.
type Dialect interface {
	// Rebind rewrites ? placeholders into the database's placeholder syntax.
	Rebind(query string) string

	// UpsertHead returns a statement taking (aggregate_type, aggregate_id, aggregate_sequence)
	// that inserts or moves an aggregate head.
	UpsertHead(table string) string

	// UpsertSnapshot returns a statement taking the snapshot columns in table order
	// that inserts or replaces the snapshot of an aggregate.
	UpsertSnapshot(table string) string

	// IsUniqueViolation reports whether err is a unique constraint violation.
	IsUniqueViolation(err error) bool

	// TimeValue converts t into the value bound for a created_at column.
	TimeValue(t time.Time) any
}

// Store is a SQL-backed event store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  es.Logger
	config  Config
}

var (
	_ store.EventStore    = (*Store)(nil)
	_ store.SnapshotStore = (*Store)(nil)
)

// New creates a store over db.
func New(db *sql.DB, dialect Dialect, config Config) *Store {
	if config.Serializer == nil {
		config.Serializer = serializer.New(nil)
	}
	if config.Representation == "" {
		config.Representation = serializer.JSON
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  es.LoggerOrNoOp(config.Logger),
		config:  config,
	}
}

// AppendEvents implements store.EventStore.
// Head lookups go through the aggregate heads table. The unique constraint on
// (aggregate_type, aggregate_id, aggregate_sequence) catches a concurrent writer
// that commits between the head check and the insert.
func (s *Store) AppendEvents(ctx context.Context, aggregateType string, events []es.DomainEvent) (err error) {
	first, err := store.ValidateBatch(aggregateType, events)
	if err != nil {
		return err
	}

	conn := es.DBTXFromContext(ctx, nil)
	if conn == nil {
		tx, beginErr := s.db.BeginTx(ctx, nil)
		if beginErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", beginErr)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
				return
			}
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit append: %w", commitErr)
			}
		}()
		conn = tx
	}

	for id, seq := range first {
		head, err := s.head(ctx, conn, aggregateType, id)
		if err != nil {
			return err
		}
		if seq != head+1 {
			s.logger.Error(ctx, "optimistic concurrency conflict",
				"aggregate_type", aggregateType,
				"aggregate_id", id,
				"head", head,
				"sequence", seq)
			return fmt.Errorf("%w: aggregate %s is at %d, got event %d", store.ErrOptimisticConcurrency, id, head, seq)
		}
	}

	insert := s.dialect.Rebind(fmt.Sprintf(`
		INSERT INTO %s (
			aggregate_type, aggregate_id, aggregate_sequence,
			event_id, event_type, payload_type, representation,
			payload, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable))

	last := make(map[string]int64, len(first))
	for i := range events {
		event := &events[i]
		obj, err := s.encode(event)
		if err != nil {
			return err
		}
		metadata, err := encodeMetadata(event.Metadata)
		if err != nil {
			return err
		}

		_, err = conn.ExecContext(ctx, insert,
			aggregateType,
			event.AggregateID,
			event.SequenceNumber,
			event.EventID.String(),
			event.EventType,
			obj.Type,
			obj.Representation,
			obj.Data,
			metadata,
			s.dialect.TimeValue(event.CreatedAt),
		)
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				s.logger.Error(ctx, "optimistic concurrency conflict",
					"aggregate_type", aggregateType,
					"aggregate_id", event.AggregateID,
					"sequence", event.SequenceNumber)
				return fmt.Errorf("%w: aggregate %s event %d already stored", store.ErrOptimisticConcurrency, event.AggregateID, event.SequenceNumber)
			}
			return fmt.Errorf("failed to insert event %d: %w", i, err)
		}
		last[event.AggregateID] = event.SequenceNumber
	}

	upsert := s.dialect.Rebind(s.dialect.UpsertHead(s.config.AggregateHeadsTable))
	for id, seq := range last {
		if _, err := conn.ExecContext(ctx, upsert, aggregateType, id, seq); err != nil {
			return fmt.Errorf("failed to update aggregate head: %w", err)
		}
	}

	s.logger.Debug(ctx, "events appended",
		"aggregate_type", aggregateType,
		"event_count", len(events),
		"aggregates", len(last))
	return nil
}

// AppendSnapshot implements store.SnapshotStore.
func (s *Store) AppendSnapshot(ctx context.Context, aggregateType string, event es.DomainEvent) error {
	conn := es.DBTXFromContext(ctx, s.db)

	head, err := s.head(ctx, conn, aggregateType, event.AggregateID)
	if err != nil {
		return err
	}
	if event.SequenceNumber > head {
		return fmt.Errorf("snapshot at %d is ahead of aggregate %s", event.SequenceNumber, event.AggregateID)
	}

	obj, err := s.encode(&event)
	if err != nil {
		return err
	}
	upsert := s.dialect.Rebind(s.dialect.UpsertSnapshot(s.config.SnapshotsTable))
	_, err = conn.ExecContext(ctx, upsert,
		aggregateType,
		event.AggregateID,
		event.SequenceNumber,
		event.EventID.String(),
		event.EventType,
		obj.Type,
		obj.Representation,
		obj.Data,
		s.dialect.TimeValue(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.logger.Debug(ctx, "snapshot stored",
		"aggregate_type", aggregateType,
		"aggregate_id", event.AggregateID,
		"sequence", event.SequenceNumber)
	return nil
}

// ReadEvents implements store.EventStore.
func (s *Store) ReadEvents(ctx context.Context, aggregateType, aggregateID string) (es.Stream, error) {
	conn := es.DBTXFromContext(ctx, s.db)
	stream := es.Stream{AggregateType: aggregateType, AggregateID: aggregateID}

	snapshot, ok, err := s.readSnapshot(ctx, conn, aggregateType, aggregateID)
	if err != nil {
		return es.Stream{}, err
	}
	from := int64(0)
	if ok {
		stream.Events = append(stream.Events, snapshot)
		from = snapshot.SequenceNumber + 1
	}

	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT
			aggregate_id, aggregate_sequence,
			event_id, event_type, payload_type, representation,
			payload, metadata, created_at
		FROM %s
		WHERE aggregate_type = ? AND aggregate_id = ? AND aggregate_sequence >= ?
		ORDER BY aggregate_sequence ASC
	`, s.config.EventsTable))

	rows, err := conn.QueryContext(ctx, query, aggregateType, aggregateID, from)
	if err != nil {
		return es.Stream{}, fmt.Errorf("failed to query aggregate stream: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        row
			metadata sql.NullString
		)
		if err := rows.Scan(
			&r.aggregateID, &r.sequence,
			&r.eventID, &r.eventType, &r.payloadType, &r.representation,
			&r.payload, &metadata, &r.createdAt,
		); err != nil {
			return es.Stream{}, fmt.Errorf("failed to scan event: %w", err)
		}
		event, err := s.decode(aggregateType, &r)
		if err != nil {
			return es.Stream{}, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return es.Stream{}, fmt.Errorf("failed to decode metadata of event %s: %w", event.EventID, err)
			}
		}
		stream.Events = append(stream.Events, event)
	}
	if err := rows.Err(); err != nil {
		return es.Stream{}, fmt.Errorf("rows error: %w", err)
	}

	if stream.IsEmpty() {
		return es.Stream{}, fmt.Errorf("%w: %s %s", store.ErrStreamNotFound, aggregateType, aggregateID)
	}

	s.logger.Debug(ctx, "aggregate stream read",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"event_count", stream.Len(),
		"from_snapshot", ok)
	return stream, nil
}

// head returns the last stored sequence number of an aggregate, or -1.
func (s *Store) head(ctx context.Context, conn es.DBTX, aggregateType, aggregateID string) (int64, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT aggregate_sequence
		FROM %s
		WHERE aggregate_type = ? AND aggregate_id = ?
	`, s.config.AggregateHeadsTable))

	var head int64
	err := conn.QueryRowContext(ctx, query, aggregateType, aggregateID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check aggregate head: %w", err)
	}
	return head, nil
}

func (s *Store) readSnapshot(ctx context.Context, conn es.DBTX, aggregateType, aggregateID string) (es.DomainEvent, bool, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT
			aggregate_id, aggregate_sequence,
			event_id, event_type, payload_type, representation,
			payload, created_at
		FROM %s
		WHERE aggregate_type = ? AND aggregate_id = ?
	`, s.config.SnapshotsTable))

	var r row
	err := conn.QueryRowContext(ctx, query, aggregateType, aggregateID).Scan(
		&r.aggregateID, &r.sequence,
		&r.eventID, &r.eventType, &r.payloadType, &r.representation,
		&r.payload, &r.createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return es.DomainEvent{}, false, nil
	}
	if err != nil {
		return es.DomainEvent{}, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	event, err := s.decode(aggregateType, &r)
	if err != nil {
		return es.DomainEvent{}, false, err
	}
	event.Snapshot = true
	return event, true, nil
}

// encode returns the stored form of the event payload, reusing an encoding
// produced ahead of time by the command bus.
func (s *Store) encode(event *es.DomainEvent) (serializer.SerializedObject, error) {
	if data, ok := event.SerializedPayload(s.config.Representation); ok {
		return serializer.SerializedObject{
			Type:           s.typeName(event.Payload),
			Representation: s.config.Representation,
			Data:           data,
		}, nil
	}
	obj, err := s.config.Serializer.Serialize(event.Payload, s.config.Representation)
	if err != nil {
		return serializer.SerializedObject{}, fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
	}
	return obj, nil
}

func (s *Store) typeName(payload any) string {
	if typed, ok := s.config.Serializer.(interface{ Types() *serializer.TypeRegistry }); ok {
		return typed.Types().NameOf(payload)
	}
	if payload == nil {
		return ""
	}
	return fmt.Sprintf("%T", payload)
}

func (s *Store) decode(aggregateType string, r *row) (es.DomainEvent, error) {
	eventID, err := uuid.Parse(r.eventID)
	if err != nil {
		return es.DomainEvent{}, fmt.Errorf("failed to parse event ID: %w", err)
	}
	payload, err := s.config.Serializer.Deserialize(serializer.SerializedObject{
		Type:           r.payloadType,
		Representation: r.representation,
		Data:           r.payload,
	})
	if err != nil {
		return es.DomainEvent{}, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return es.DomainEvent{
		EventID:        eventID,
		AggregateType:  aggregateType,
		AggregateID:    r.aggregateID,
		SequenceNumber: r.sequence,
		EventType:      r.eventType,
		Payload:        payload,
		CreatedAt:      r.createdAt.Time,
	}, nil
}

type row struct {
	createdAt      Timestamp
	aggregateID    string
	eventID        string
	eventType      string
	payloadType    string
	representation string
	payload        []byte
	sequence       int64
}

func encodeMetadata(md map[string]string) (any, error) {
	if len(md) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}
