package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/projectbuendia/edge/internal/platform/db"
	"github.com/projectbuendia/edge/internal/records"
)

// GroupDelegate serves a whole table: list queries, insert-with-replace,
// bulk insert, and filtered update/delete.
type GroupDelegate struct {
	typ  string
	spec records.Spec
}

func NewGroupDelegate(contentType string, spec records.Spec) *GroupDelegate {
	return &GroupDelegate{typ: contentType, spec: spec}
}

func (d *GroupDelegate) Type() string { return d.typ }

func (d *GroupDelegate) Query(ctx context.Context, q db.Querier, path []string, opts Query) ([]map[string]interface{}, error) {
	if len(path) != 1 {
		return nil, fmt.Errorf("%w: group path %q must have one segment", ErrMalformedPath, joinPath(path))
	}
	sql, args, err := records.SelectSQL(d.spec, opts.Projection, opts.Filter, opts.OrderBy, opts.Desc, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", d.spec.Name, err)
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

// fillKey assigns a generated identifier to a row for a table keyed by a
// single uuid column when the caller did not supply one.  Locally created
// records are identified by this uuid until the server adopts it on sync.
func (d *GroupDelegate) fillKey(values map[string]interface{}) {
	if len(d.spec.Key) != 1 || d.spec.Key[0] != "uuid" {
		return
	}
	if v, ok := values["uuid"]; !ok || v == nil || v == "" {
		values["uuid"] = uuid.NewString()
	}
}

// Insert upserts one row.  Inserts resolve conflicts on the table's key by
// replacing the row, which is what lets sync re-apply a batch safely.
func (d *GroupDelegate) Insert(ctx context.Context, q db.Querier, path []string, values map[string]interface{}) error {
	if len(path) != 1 {
		return fmt.Errorf("%w: group path %q must have one segment", ErrMalformedPath, joinPath(path))
	}
	d.fillKey(values)
	sql, args, err := records.UpsertSQL(d.spec, values)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", d.spec.Name, err)
	}
	return nil
}

func (d *GroupDelegate) BulkInsert(ctx context.Context, q db.Querier, path []string, rows []map[string]interface{}) (int64, error) {
	if len(path) != 1 {
		return 0, fmt.Errorf("%w: group path %q must have one segment", ErrMalformedPath, joinPath(path))
	}
	var n int64
	for _, values := range rows {
		d.fillKey(values)
		sql, args, err := records.UpsertSQL(d.spec, values)
		if err != nil {
			return n, err
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return n, fmt.Errorf("bulk insert into %s: %w", d.spec.Name, err)
		}
		n++
	}
	return n, nil
}

func (d *GroupDelegate) Update(ctx context.Context, q db.Querier, path []string, values, filter map[string]interface{}) (int64, error) {
	if len(path) != 1 {
		return 0, fmt.Errorf("%w: group path %q must have one segment", ErrMalformedPath, joinPath(path))
	}
	sql, args, err := records.UpdateSQL(d.spec, values, filter)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", d.spec.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (d *GroupDelegate) Delete(ctx context.Context, q db.Querier, path []string, filter map[string]interface{}) (int64, error) {
	if len(path) != 1 {
		return 0, fmt.Errorf("%w: group path %q must have one segment", ErrMalformedPath, joinPath(path))
	}
	sql, args, err := records.DeleteSQL(d.spec, filter)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", d.spec.Name, err)
	}
	return tag.RowsAffected(), nil
}
