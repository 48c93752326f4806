package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx satisfies pgx.Tx without a database.  Begin hands back a child
// fake so nesting can be observed.
type fakeTx struct {
	begun      int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	f.begun++
	return &fakeTx{}, nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

func (f *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (f *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }

func (f *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (f *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (f *fakeTx) Conn() *pgx.Conn                                               { return nil }

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil, got %v", tx)
	}
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Errorf("expected nil, got %v", conn)
	}
}

func TestWithTx_NestsOnContextTransaction(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), TxKey, pgx.Tx(outer))

	txCtx, inner, err := WithTx(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outer.begun != 1 {
		t.Errorf("expected nested begin on the outer transaction, got %d", outer.begun)
	}
	if TxFromContext(txCtx) != inner {
		t.Error("derived context must carry the inner transaction")
	}
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), TxKey, pgx.Tx(outer))

	var innerTx pgx.Tx
	err := InTx(ctx, nil, func(txCtx context.Context) error {
		innerTx = TxFromContext(txCtx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !innerTx.(*fakeTx).committed {
		t.Error("inner transaction not committed")
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), TxKey, pgx.Tx(outer))
	boom := errors.New("boom")

	var innerTx pgx.Tx
	err := InTx(ctx, nil, func(txCtx context.Context) error {
		innerTx = TxFromContext(txCtx)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !innerTx.(*fakeTx).rolledBack {
		t.Error("inner transaction not rolled back")
	}
	if innerTx.(*fakeTx).committed {
		t.Error("failed transaction must not commit")
	}
}

func TestQuerierFrom_PrefersTransaction(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), TxKey, pgx.Tx(outer))

	q := QuerierFrom(ctx, nil)
	if q != pgx.Tx(outer) {
		t.Error("expected the context's transaction")
	}
}
