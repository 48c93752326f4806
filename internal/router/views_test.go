package router

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// emptyRows is a pgx.Rows with no rows, so view queries can run against a
// capturing querier without a database.
type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

// captureQuerier records the statement and arguments a delegate issues.
type captureQuerier struct {
	sql  string
	args []interface{}
}

func (q *captureQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (q *captureQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	return emptyRows{}, nil
}

func (q *captureQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

// flatSQL collapses whitespace so assertions survive statement formatting.
func flatSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func queryView(t *testing.T, d Delegate, path []string, opts Query) *captureQuerier {
	t.Helper()
	q := &captureQuerier{}
	if _, err := d.Query(context.Background(), q, path, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return q
}

func TestLocalizedLocations_OmitsUnnamedLocations(t *testing.T) {
	q := queryView(t, NewLocalizedLocationsDelegate(), []string{"localized-locations", "en"}, Query{})

	sql := flatSQL(q.sql)
	if strings.Contains(sql, "LEFT JOIN location_names") {
		t.Errorf("locations without a name in the locale must be omitted, got %s", sql)
	}
	if !strings.Contains(sql, "JOIN location_names") {
		t.Errorf("expected join on location_names, got %s", sql)
	}
	if len(q.args) != 1 || q.args[0] != "en" {
		t.Errorf("expected locale argument, got %v", q.args)
	}
}

func TestPatientCounts_CountsDirectAssignmentsOnly(t *testing.T) {
	q := queryView(t, NewPatientCountsDelegate(), []string{"patient-counts"}, Query{})

	// Counts group by the patient's own location; a patient assigned to a
	// child location counts toward that child, never its ancestors.
	sql := flatSQL(q.sql)
	if !strings.Contains(sql, "GROUP BY location_uuid") {
		t.Errorf("expected per-location grouping, got %s", sql)
	}
	if !strings.Contains(sql, "COUNT(*)") {
		t.Errorf("expected a count aggregate, got %s", sql)
	}
	if !strings.Contains(sql, "location_uuid IS NOT NULL") {
		t.Errorf("unassigned patients must be excluded, got %s", sql)
	}
	if strings.Contains(sql, "parent_uuid") || strings.Contains(sql, "RECURSIVE") {
		t.Errorf("counts must not walk the location tree, got %s", sql)
	}
}

func TestMostRecentChart_LatestInsertWinsTieBreak(t *testing.T) {
	d := NewMostRecentLocalizedChartsDelegate()
	q := queryView(t, d, []string{"most-recent-localized-charts", "p1", "en"}, Query{})

	sql := flatSQL(q.sql)
	if !strings.Contains(sql, "DISTINCT ON (o.concept_uuid)") {
		t.Errorf("expected one row per concept, got %s", sql)
	}
	// At equal encounter times the higher row id, the later insert, wins.
	if !strings.Contains(sql, "ORDER BY o.concept_uuid, o.encounter_time DESC, o.id DESC") {
		t.Errorf("expected id tie-break after encounter_time, got %s", sql)
	}
	if len(q.args) != 2 || q.args[0] != "p1" || q.args[1] != "en" {
		t.Errorf("expected patient and locale arguments, got %v", q.args)
	}
}

func TestLocalizedCharts_JoinsOnPrimaryConcept(t *testing.T) {
	d := NewLocalizedChartsDelegate()
	q := queryView(t, d, []string{"localized-charts", "p1", "en", "chart-1"}, Query{})

	sql := flatSQL(q.sql)
	if !strings.Contains(sql, "split_part(ci.concept_uuids, ',', 1)") {
		t.Errorf("expected join on the first listed concept, got %s", sql)
	}
	if !strings.Contains(sql, "ORDER BY ci.weight, o.encounter_time, o.id") {
		t.Errorf("expected display order by weight, got %s", sql)
	}
	if len(q.args) != 3 || q.args[0] != "chart-1" || q.args[1] != "en" || q.args[2] != "p1" {
		t.Errorf("expected chart, locale, patient arguments, got %v", q.args)
	}
}

func TestView_AppendsLimitAndOffset(t *testing.T) {
	q := queryView(t, NewPatientCountsDelegate(), []string{"patient-counts"}, Query{Limit: 5, Offset: 10})

	sql := flatSQL(q.sql)
	if !strings.HasSuffix(sql, "LIMIT 5 OFFSET 10") {
		t.Errorf("expected paging suffix, got %s", sql)
	}
}
