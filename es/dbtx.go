package es

import (
	"context"
	"database/sql"
)

// DBTX is a minimal interface for database operations.
// It is implemented by both *sql.DB and *sql.Tx, allowing
// SQL event stores to join a transaction started elsewhere.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ensure standard library types implement DBTX
var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

type dbtxKey struct{}

// ContextWithDBTX returns a context carrying tx. SQL event stores prefer it over their own handle.
func ContextWithDBTX(ctx context.Context, tx DBTX) context.Context {
	return context.WithValue(ctx, dbtxKey{}, tx)
}

// DBTXFromContext returns the DBTX bound to ctx, or fallback when none is bound.
func DBTXFromContext(ctx context.Context, fallback DBTX) DBTX {
	if tx, ok := ctx.Value(dbtxKey{}).(DBTX); ok && tx != nil {
		return tx
	}
	return fallback
}
