package router

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/projectbuendia/edge/internal/platform/db"
	"github.com/projectbuendia/edge/internal/records"
)

// ItemDelegate serves a single row addressed by the final path segment,
// matched against the table's key column.  Tables with compound keys are
// not addressable this way and keep their group delegate only.
type ItemDelegate struct {
	typ  string
	spec records.Spec
	key  string

	// parseKey converts the path segment into the key column's value.
	// Nil means the segment is used as-is (a string key).
	parseKey func(string) (interface{}, error)

	// insertable allows Insert with the key taken from the path, which
	// covers the single-row bookkeeping tables.
	insertable bool
}

func NewItemDelegate(contentType string, spec records.Spec, key string) *ItemDelegate {
	if !spec.HasColumn(key) {
		panic(fmt.Sprintf("router: table %s has no column %s", spec.Name, key))
	}
	return &ItemDelegate{typ: contentType, spec: spec, key: key}
}

// NewInsertableItemDelegate is an ItemDelegate that also accepts inserts,
// with parseKey translating the path segment into the key value.
func NewInsertableItemDelegate(contentType string, spec records.Spec, key string, parseKey func(string) (interface{}, error)) *ItemDelegate {
	d := NewItemDelegate(contentType, spec, key)
	d.parseKey = parseKey
	d.insertable = true
	return d
}

func (d *ItemDelegate) Type() string { return d.typ }

func (d *ItemDelegate) keyFilter(path []string) (map[string]interface{}, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: item path %q must end in a key segment", ErrMalformedPath, joinPath(path))
	}
	seg := path[len(path)-1]
	var value interface{} = seg
	if d.parseKey != nil {
		v, err := d.parseKey(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: bad key %q for %s: %v", ErrMalformedPath, seg, d.spec.Name, err)
		}
		value = v
	}
	return map[string]interface{}{d.key: value}, nil
}

func (d *ItemDelegate) Query(ctx context.Context, q db.Querier, path []string, opts Query) ([]map[string]interface{}, error) {
	filter, err := d.keyFilter(path)
	if err != nil {
		return nil, err
	}
	for col, v := range opts.Filter {
		filter[col] = v
	}
	sql, args, err := records.SelectSQL(d.spec, opts.Projection, filter, opts.OrderBy, opts.Desc, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", d.spec.Name, err)
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

// Insert upserts the addressed row; the key comes from the path and
// overrides any key present in the values.  Only insertable items accept
// this, everything else directs inserts at the group path.
func (d *ItemDelegate) Insert(ctx context.Context, q db.Querier, path []string, values map[string]interface{}) error {
	if !d.insertable {
		return fmt.Errorf("%w: insert on item path %q, use the group path", ErrUnsupported, joinPath(path))
	}
	filter, err := d.keyFilter(path)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(values)+1)
	for col, v := range values {
		merged[col] = v
	}
	merged[d.key] = filter[d.key]
	sql, args, err := records.UpsertSQL(d.spec, merged)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", d.spec.Name, err)
	}
	return nil
}

func (d *ItemDelegate) BulkInsert(_ context.Context, _ db.Querier, path []string, _ []map[string]interface{}) (int64, error) {
	return 0, fmt.Errorf("%w: bulk insert on item path %q, use the group path", ErrUnsupported, joinPath(path))
}

func (d *ItemDelegate) Update(ctx context.Context, q db.Querier, path []string, values, filter map[string]interface{}) (int64, error) {
	keyed, err := d.keyFilter(path)
	if err != nil {
		return 0, err
	}
	for col, v := range filter {
		keyed[col] = v
	}
	sql, args, err := records.UpdateSQL(d.spec, values, keyed)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", d.spec.Name, err)
	}
	return tag.RowsAffected(), nil
}

func (d *ItemDelegate) Delete(ctx context.Context, q db.Querier, path []string, filter map[string]interface{}) (int64, error) {
	keyed, err := d.keyFilter(path)
	if err != nil {
		return 0, err
	}
	for col, v := range filter {
		keyed[col] = v
	}
	sql, args, err := records.DeleteSQL(d.spec, keyed)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", d.spec.Name, err)
	}
	return tag.RowsAffected(), nil
}
