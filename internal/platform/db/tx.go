package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	TxKey     contextKey = "db_tx"
	DBConnKey contextKey = "db_conn"
)

// Querier is the common query surface of a pool, an acquired connection,
// and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// WithTx opens a transaction and returns a derived context carrying it.
// If the context already carries a transaction, the new one is a nested
// transaction backed by a SQL savepoint: committing it releases the
// savepoint, rolling it back unwinds to the savepoint, and rolling back
// the outer transaction discards all inner work regardless of whether the
// inner transaction committed.
//
// Callers must always `defer tx.Rollback(ctx)` with the returned
// transaction; rollback after a successful commit is a no-op, so the
// underlying connection is released on every exit path.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	var tx pgx.Tx
	var err error

	if outer := TxFromContext(ctx); outer != nil {
		tx, err = outer.Begin(ctx) // SAVEPOINT under the covers
	} else if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else {
		tx, err = pool.Begin(ctx)
	}
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}

	return context.WithValue(ctx, TxKey, tx), tx, nil
}

// InTx runs fn inside a transaction (a savepoint when the context already
// carries one).  The transaction commits if fn returns nil and rolls back
// otherwise; the connection is released on every exit path.
func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	txCtx, tx, err := WithTx(ctx, pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(TxKey).(pgx.Tx)
	return tx
}

// ConnFromContext retrieves an acquired connection from context, or nil.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// QuerierFrom selects the innermost query surface available: the context's
// transaction, then its acquired connection, then the pool.  Reads outside
// any transaction observe only committed data.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if conn := ConnFromContext(ctx); conn != nil {
		return conn
	}
	return pool
}
