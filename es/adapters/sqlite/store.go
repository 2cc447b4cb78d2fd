// Package sqlite provides a SQLite adapter for the event store.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/pupcommand/es/adapters/sqlstore"
)

// Dialect implements sqlstore.Dialect for SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// NewStore creates a SQLite event store over db.
//
// Example:
//
//	db, _ := sql.Open("sqlite", "events.db")
//	s := sqlite.NewStore(db, sqlstore.WithEventsTable("custom_events"))
func NewStore(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewConfig(opts...))
}

// Rebind implements sqlstore.Dialect. SQLite accepts ? placeholders.
func (Dialect) Rebind(query string) string {
	return query
}

// UpsertHead implements sqlstore.Dialect.
func (Dialect) UpsertHead(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, aggregate_sequence, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (aggregate_type, aggregate_id)
		DO UPDATE SET
			aggregate_sequence = excluded.aggregate_sequence,
			updated_at = excluded.updated_at
	`, table)
}

// UpsertSnapshot implements sqlstore.Dialect.
func (Dialect) UpsertSnapshot(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			aggregate_type, aggregate_id, aggregate_sequence,
			event_id, event_type, payload_type, representation,
			payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_type, aggregate_id)
		DO UPDATE SET
			aggregate_sequence = excluded.aggregate_sequence,
			event_id = excluded.event_id,
			event_type = excluded.event_type,
			payload_type = excluded.payload_type,
			representation = excluded.representation,
			payload = excluded.payload,
			created_at = excluded.created_at
	`, table)
}

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	return IsUniqueViolation(err)
}

// TimeValue implements sqlstore.Dialect. Timestamps are stored as text.
func (Dialect) TimeValue(t time.Time) any {
	return t.UTC().Format(sqlstore.DateTimeFormat)
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// SQLite error messages for unique constraint violations
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "constraint failed")
}
