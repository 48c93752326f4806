package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/projectbuendia/edge/internal/records"
)

func mustTable(t *testing.T, name string) records.Spec {
	t.Helper()
	s, ok := records.SpecFor(name)
	if !ok {
		t.Fatalf("no spec for %s", name)
	}
	return s
}

// The error paths below fail before any SQL executes, so a nil querier is
// safe: reaching the database would panic the test.

func TestViewDelegate_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	d := NewLocalizedLocationsDelegate()
	path := []string{"localized-locations", "en"}

	if err := d.Insert(ctx, nil, path, map[string]interface{}{"uuid": "x"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("insert: expected ErrUnsupported, got %v", err)
	}
	if _, err := d.BulkInsert(ctx, nil, path, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("bulk insert: expected ErrUnsupported, got %v", err)
	}
	if _, err := d.Update(ctx, nil, path, nil, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("update: expected ErrUnsupported, got %v", err)
	}
	if _, err := d.Delete(ctx, nil, path, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("delete: expected ErrUnsupported, got %v", err)
	}
}

func TestViewDelegate_MalformedPath(t *testing.T) {
	ctx := context.Background()
	d := NewLocalizedChartsDelegate()

	_, err := d.Query(ctx, nil, []string{"localized-charts", "p1"}, Query{})
	if !errors.Is(err, ErrMalformedPath) {
		t.Fatalf("expected ErrMalformedPath, got %v", err)
	}
	if !strings.Contains(err.Error(), "4 segments") {
		t.Errorf("error should describe the expected shape: %v", err)
	}
}

func TestViewDelegate_RejectsProjectionAndFilter(t *testing.T) {
	ctx := context.Background()
	d := NewPatientCountsDelegate()
	path := []string{"patient-counts"}

	if _, err := d.Query(ctx, nil, path, Query{Projection: []string{"uuid"}}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("projection: expected ErrUnsupported, got %v", err)
	}
	if _, err := d.Query(ctx, nil, path, Query{Filter: map[string]interface{}{"a": 1}}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("filter: expected ErrUnsupported, got %v", err)
	}
}

func TestItemDelegate_RequiresKeySegment(t *testing.T) {
	ctx := context.Background()
	d := NewItemDelegate(ItemType("patients"), mustTable(t, records.TablePatients), "uuid")

	_, err := d.Query(ctx, nil, []string{"patients"}, Query{})
	if !errors.Is(err, ErrMalformedPath) {
		t.Errorf("expected ErrMalformedPath, got %v", err)
	}
}

func TestItemDelegate_InsertDirectsToGroup(t *testing.T) {
	ctx := context.Background()
	d := NewItemDelegate(ItemType("patients"), mustTable(t, records.TablePatients), "uuid")

	err := d.Insert(ctx, nil, []string{"patients", "p1"}, map[string]interface{}{"uuid": "p1"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if _, err := d.BulkInsert(ctx, nil, []string{"patients", "p1"}, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("bulk: expected ErrUnsupported, got %v", err)
	}
}

func TestInsertableItemDelegate_BadKey(t *testing.T) {
	ctx := context.Background()
	d := NewInsertableItemDelegate(ItemType("misc"), mustTable(t, records.TableMisc), "id",
		func(seg string) (interface{}, error) {
			if seg != "0" {
				return nil, errors.New("only row 0 exists")
			}
			return 0, nil
		})

	err := d.Insert(ctx, nil, []string{"misc", "seven"}, map[string]interface{}{"full_sync_start_millis": 1})
	if !errors.Is(err, ErrMalformedPath) {
		t.Errorf("expected ErrMalformedPath for unparseable key, got %v", err)
	}
}

func TestGroupDelegate_RejectsSubPaths(t *testing.T) {
	ctx := context.Background()
	d := NewGroupDelegate(GroupType("patients"), mustTable(t, records.TablePatients))

	if _, err := d.Query(ctx, nil, []string{"patients", "p1"}, Query{}); !errors.Is(err, ErrMalformedPath) {
		t.Errorf("expected ErrMalformedPath, got %v", err)
	}
}

func TestGroupDelegate_UnknownFilterColumn(t *testing.T) {
	ctx := context.Background()
	d := NewGroupDelegate(GroupType("patients"), mustTable(t, records.TablePatients))

	_, err := d.Query(ctx, nil, []string{"patients"}, Query{Filter: map[string]interface{}{"bogus": "x"}})
	if err == nil {
		t.Fatal("expected error for unknown filter column")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error should name the column: %v", err)
	}
}

func TestContentTypes(t *testing.T) {
	if got := GroupType("patients"); got != "application/vnd.projectbuendia.patients-list+json" {
		t.Errorf("group type: %s", got)
	}
	if got := ItemType("patients"); got != "application/vnd.projectbuendia.patients+json" {
		t.Errorf("item type: %s", got)
	}
}
