// Package postgres provides a PostgreSQL adapter for the event store.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/getpup/pupcommand/es/adapters/sqlstore"
)

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// NewStore creates a PostgreSQL event store over db.
func NewStore(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewConfig(opts...))
}

// Rebind implements sqlstore.Dialect. Each ? becomes $1, $2 and so on.
func (Dialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UpsertHead implements sqlstore.Dialect.
func (Dialect) UpsertHead(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, aggregate_sequence, updated_at)
		VALUES (?, ?, ?, NOW())
		ON CONFLICT (aggregate_type, aggregate_id)
		DO UPDATE SET aggregate_sequence = EXCLUDED.aggregate_sequence, updated_at = NOW()
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
			aggregate_sequence = EXCLUDED.aggregate_sequence,
			event_id = EXCLUDED.event_id,
			event_type = EXCLUDED.event_type,
			payload_type = EXCLUDED.payload_type,
			representation = EXCLUDED.representation,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at
	`, table)
}

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	return IsUniqueViolation(err)
}

// TimeValue implements sqlstore.Dialect.
func (Dialect) TimeValue(t time.Time) any {
	return t.UTC()
}

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a pq.Error with unique_violation code (23505)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
