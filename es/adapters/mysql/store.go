// Package mysql provides a MySQL/MariaDB adapter for the event store.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/getpup/pupcommand/es/adapters/sqlstore"
)

// Dialect implements sqlstore.Dialect for MySQL and MariaDB.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// NewStore creates a MySQL event store over db.
func NewStore(db *sql.DB, opts ...sqlstore.Option) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewConfig(opts...))
}

// Rebind implements sqlstore.Dialect. MySQL accepts ? placeholders.
func (Dialect) Rebind(query string) string {
	return query
}

// UpsertHead implements sqlstore.Dialect.
func (Dialect) UpsertHead(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, aggregate_sequence)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE aggregate_sequence = VALUES(aggregate_sequence)
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
		ON DUPLICATE KEY UPDATE
			aggregate_sequence = VALUES(aggregate_sequence),
			event_id = VALUES(event_id),
			event_type = VALUES(event_type),
			payload_type = VALUES(payload_type),
			representation = VALUES(representation),
			payload = VALUES(payload),
			created_at = VALUES(created_at)
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

// IsUniqueViolation checks if an error is a MySQL duplicate entry error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a MySQL error with duplicate entry code (1062)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint")
}
