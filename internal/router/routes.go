package router

import (
	"fmt"
	"strconv"

	"github.com/projectbuendia/edge/internal/records"
)

// BuildRegistry assembles the full routing table: a group delegate per
// table, item delegates for tables addressable by a single key column, and
// the read-only derived views.
func BuildRegistry() *Registry {
	r := NewRegistry()

	group := func(path, table string) {
		r.Register(path, NewGroupDelegate(GroupType(path), mustSpec(table)))
	}
	item := func(path, table, key string) {
		r.Register(path+"/*", NewItemDelegate(ItemType(path), mustSpec(table), key))
	}

	group("locations", records.TableLocations)
	item("locations", records.TableLocations, "uuid")
	group("location-names", records.TableLocationNames)
	group("concepts", records.TableConcepts)
	item("concepts", records.TableConcepts, "uuid")
	group("concept-names", records.TableConceptNames)
	group("forms", records.TableForms)
	item("forms", records.TableForms, "uuid")
	group("chart-items", records.TableChartItems)
	group("observations", records.TableObservations)
	item("observations", records.TableObservations, "uuid")
	group("orders", records.TableOrders)
	item("orders", records.TableOrders, "uuid")
	group("patients", records.TablePatients)
	item("patients", records.TablePatients, "uuid")
	group("users", records.TableUsers)
	item("users", records.TableUsers, "uuid")

	// Bookkeeping rows are addressed directly and accept inserts, since
	// there is no meaningful group insert for them.
	r.Register("misc/*", NewInsertableItemDelegate(
		ItemType("misc"), mustSpec(records.TableMisc), "id",
		func(seg string) (interface{}, error) { return strconv.Atoi(seg) },
	))
	r.Register("sync-tokens", NewGroupDelegate(GroupType("sync-tokens"), mustSpec(records.TableSyncTokens)))
	r.Register("sync-tokens/*", NewInsertableItemDelegate(
		ItemType("sync-tokens"), mustSpec(records.TableSyncTokens), "table_name", nil,
	))

	r.Register("localized-locations/*", NewLocalizedLocationsDelegate())
	r.Register("localized-charts/*/*/*", NewLocalizedChartsDelegate())
	r.Register("most-recent-localized-charts/*/*", NewMostRecentLocalizedChartsDelegate())
	r.Register("patient-counts", NewPatientCountsDelegate())

	return r
}

func mustSpec(table string) records.Spec {
	s, ok := records.SpecFor(table)
	if !ok {
		panic(fmt.Sprintf("router: unknown table %s", table))
	}
	return s
}
