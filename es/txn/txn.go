// Package txn provides transaction managers that bound the publication phase of a command.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/getpup/pupcommand/es"
)

// ErrTransactionFinished indicates Commit or Rollback on a transaction that already ended.
var ErrTransactionFinished = errors.New("transaction already finished")

// Transaction is an open transaction.
type Transaction interface {
	Commit() error
	Rollback() error
}

// TransactionManager starts transactions. The returned context carries whatever
// collaborators need to join the transaction.
type TransactionManager interface {
	Start(ctx context.Context) (Transaction, context.Context, error)
}

// NoTransactionManager starts transactions that do nothing.
type NoTransactionManager struct{}

// Start implements TransactionManager.
func (NoTransactionManager) Start(ctx context.Context) (Transaction, context.Context, error) {
	return noTransaction{}, ctx, nil
}

type noTransaction struct{}

func (noTransaction) Commit() error   { return nil }
func (noTransaction) Rollback() error { return nil }

// SQLTransactionManager starts database/sql transactions and binds them to the
// context with es.ContextWithDBTX, so SQL event stores append inside them.
type SQLTransactionManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewSQLTransactionManager creates a manager over db. opts may be nil.
func NewSQLTransactionManager(db *sql.DB, opts *sql.TxOptions) *SQLTransactionManager {
	return &SQLTransactionManager{db: db, opts: opts}
}

// Start implements TransactionManager.
func (m *SQLTransactionManager) Start(ctx context.Context) (Transaction, context.Context, error) {
	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTransaction{tx: tx}, es.ContextWithDBTX(ctx, tx), nil
}

type sqlTransaction struct {
	tx *sql.Tx
}

func (t *sqlTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTransactionFinished
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqlTransaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTransactionFinished
		}
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}
