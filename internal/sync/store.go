package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/projectbuendia/edge/internal/platform/db"
	"github.com/projectbuendia/edge/internal/records"
)

// ErrNoSyncStart marks an end-of-sync report with no recorded start: the
// completion cannot belong to any known pass.
var ErrNoSyncStart = errors.New("no sync start recorded")

// Store applies mutation batches to the datastore and keeps the sync
// bookkeeping rows.  All methods honor a transaction already carried by
// the context.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// InTx runs fn inside a transaction; nested calls become savepoints.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, s.pool, fn)
}

// Apply executes a mutation batch in order.  Callers wrap Apply in a
// transaction when the batch must land atomically; Apply itself stops at
// the first failing mutation and reports which one failed.
func (s *Store) Apply(ctx context.Context, muts []Mutation) (Stats, error) {
	q := db.QuerierFrom(ctx, s.pool)
	var stats Stats
	for i, m := range muts {
		spec, ok := records.SpecFor(m.Table)
		if !ok {
			return stats, fmt.Errorf("mutation %d: unknown table %q", i, m.Table)
		}
		switch m.Op {
		case OpUpsert:
			sql, args, err := records.UpsertSQL(spec, m.Values)
			if err != nil {
				return stats, fmt.Errorf("mutation %d: %w", i, err)
			}
			if _, err := q.Exec(ctx, sql, args...); err != nil {
				return stats, fmt.Errorf("mutation %d: upsert %s: %w", i, m.Table, err)
			}
			stats.Inserts++
		case OpDelete:
			sql, args, err := records.DeleteSQL(spec, m.Filter)
			if err != nil {
				return stats, fmt.Errorf("mutation %d: %w", i, err)
			}
			tag, err := q.Exec(ctx, sql, args...)
			if err != nil {
				return stats, fmt.Errorf("mutation %d: delete from %s: %w", i, m.Table, err)
			}
			stats.Deletes += int(tag.RowsAffected())
		default:
			return stats, fmt.Errorf("mutation %d: unknown op %q", i, m.Op)
		}
	}
	return stats, nil
}

// DeleteProvisionalObservations removes every observation still bearing a
// null uuid.  Those rows are local writes the server never acknowledged;
// they are discarded only after a full sync completed successfully.
func (s *Store) DeleteProvisionalObservations(ctx context.Context) (int64, error) {
	q := db.QuerierFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `DELETE FROM observations WHERE uuid IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete provisional observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetFullSyncStart records the start of a full sync pass in the misc row
// and clears the end marker, so an interrupted pass is detectable.
func (s *Store) SetFullSyncStart(ctx context.Context, millis int64) error {
	q := db.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO misc (id, full_sync_start_millis, full_sync_end_millis)
		VALUES (0, $1, NULL)
		ON CONFLICT (id) DO UPDATE
		SET full_sync_start_millis = EXCLUDED.full_sync_start_millis,
		    full_sync_end_millis = NULL`, millis)
	if err != nil {
		return fmt.Errorf("set full sync start: %w", err)
	}
	return nil
}

// SetFullSyncEnd records a confirmed successful completion.
func (s *Store) SetFullSyncEnd(ctx context.Context, millis int64) error {
	q := db.QuerierFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `UPDATE misc SET full_sync_end_millis = $1 WHERE id = 0`, millis)
	if err != nil {
		return fmt.Errorf("set full sync end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set full sync end: %w", ErrNoSyncStart)
	}
	return nil
}

// SyncStatus is the misc row plus the per-table cursors, as reported to
// operators.
type SyncStatus struct {
	FullSyncStartMillis *int64            `json:"full_sync_start_millis"`
	FullSyncEndMillis   *int64            `json:"full_sync_end_millis"`
	SyncTokens          map[string]string `json:"sync_tokens"`
}

func (s *Store) Status(ctx context.Context) (SyncStatus, error) {
	q := db.QuerierFrom(ctx, s.pool)
	status := SyncStatus{SyncTokens: map[string]string{}}

	err := q.QueryRow(ctx, `SELECT full_sync_start_millis, full_sync_end_millis FROM misc WHERE id = 0`).
		Scan(&status.FullSyncStartMillis, &status.FullSyncEndMillis)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return status, fmt.Errorf("read sync bookkeeping: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT table_name, sync_token FROM sync_tokens`)
	if err != nil {
		return status, fmt.Errorf("read sync tokens: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, token string
		if err := rows.Scan(&table, &token); err != nil {
			return status, fmt.Errorf("scan sync token: %w", err)
		}
		status.SyncTokens[table] = token
	}
	return status, rows.Err()
}

// SyncToken returns the incremental cursor for a table, or "" when none is
// stored yet.
func (s *Store) SyncToken(ctx context.Context, table string) (string, error) {
	q := db.QuerierFrom(ctx, s.pool)
	var token string
	err := q.QueryRow(ctx, `SELECT sync_token FROM sync_tokens WHERE table_name = $1`, table).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sync token for %s: %w", table, err)
	}
	return token, nil
}

// SetSyncToken stores the cursor to resume the next incremental fetch
// from.  An empty token is ignored.
func (s *Store) SetSyncToken(ctx context.Context, table, token string) error {
	if token == "" {
		return nil
	}
	q := db.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO sync_tokens (table_name, sync_token) VALUES ($1, $2)
		ON CONFLICT (table_name) DO UPDATE SET sync_token = EXCLUDED.sync_token`, table, token)
	if err != nil {
		return fmt.Errorf("set sync token for %s: %w", table, err)
	}
	return nil
}

// PatientUUIDs lists every cached patient, for per-patient chart fetches.
func (s *Store) PatientUUIDs(ctx context.Context) ([]string, error) {
	q := db.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `SELECT uuid FROM patients ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("list patient uuids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
