// Package router dispatches logical resource paths to delegates that know
// how to query and mutate the record store.  The registry is a static
// lookup table built at startup; delegates exist for whole tables (group),
// single rows (item), and read-only derived views.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/projectbuendia/edge/internal/platform/db"
)

// ErrUnsupported marks an operation a delegate does not support, such as a
// write against a derived view.  Callers reject the request immediately;
// the operation is never retried.
var ErrUnsupported = errors.New("unsupported operation")

// ErrMalformedPath marks a path with the wrong shape for its delegate,
// e.g. a parameterized view queried without its parameter segments.
var ErrMalformedPath = errors.New("malformed path")

// ErrNoDelegate marks a path no delegate is registered for.
var ErrNoDelegate = errors.New("no delegate registered")

const typePrefix = "application/vnd.projectbuendia."

// GroupType returns the content type reported for a whole-table resource.
func GroupType(name string) string { return typePrefix + name + "-list+json" }

// ItemType returns the content type reported for a single-row resource.
func ItemType(name string) string { return typePrefix + name + "+json" }

// Query carries the options of a read request.
type Query struct {
	// Projection lists the columns to return; empty means all columns.
	Projection []string
	// Filter is an equality filter over columns; nil values match NULL.
	Filter map[string]interface{}
	// OrderBy names the column to sort by ("" for no ordering).
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Delegate satisfies query/insert/bulk-insert/update/delete for one
// resource path.  The path slice holds the matched segments, including the
// wildcard values for parameterized paths.
type Delegate interface {
	// Type returns the MIME-like content type of the resource, which
	// distinguishes "directory" from "single item" shapes.
	Type() string

	Query(ctx context.Context, q db.Querier, path []string, opts Query) ([]map[string]interface{}, error)
	Insert(ctx context.Context, q db.Querier, path []string, values map[string]interface{}) error
	BulkInsert(ctx context.Context, q db.Querier, path []string, rows []map[string]interface{}) (int64, error)
	Update(ctx context.Context, q db.Querier, path []string, values, filter map[string]interface{}) (int64, error)
	Delete(ctx context.Context, q db.Querier, path []string, filter map[string]interface{}) (int64, error)
}

// readOnly provides the write methods of a derived view, all of which fail
// with ErrUnsupported and never touch the underlying tables.
type readOnly struct{}

func (readOnly) Insert(_ context.Context, _ db.Querier, path []string, _ map[string]interface{}) error {
	return fmt.Errorf("%w: insert on read-only path %q", ErrUnsupported, joinPath(path))
}

func (readOnly) BulkInsert(_ context.Context, _ db.Querier, path []string, _ []map[string]interface{}) (int64, error) {
	return 0, fmt.Errorf("%w: bulk insert on read-only path %q", ErrUnsupported, joinPath(path))
}

func (readOnly) Update(_ context.Context, _ db.Querier, path []string, _, _ map[string]interface{}) (int64, error) {
	return 0, fmt.Errorf("%w: update on read-only path %q", ErrUnsupported, joinPath(path))
}

func (readOnly) Delete(_ context.Context, _ db.Querier, path []string, _ map[string]interface{}) (int64, error) {
	return 0, fmt.Errorf("%w: delete on read-only path %q", ErrUnsupported, joinPath(path))
}
