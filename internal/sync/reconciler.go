package sync

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/projectbuendia/edge/internal/records"
)

// Op is a mutation kind.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Mutation is one atomic store operation.  Conversion produces ordered
// mutation lists; nothing touches the store until the caller applies the
// whole batch inside a transaction.
type Mutation struct {
	Op     Op
	Table  string
	Values map[string]interface{}
	Filter map[string]interface{}
}

// Reconciler converts server payloads into mutation batches.  Malformed
// items are logged and skipped; a bad record never aborts conversion of
// its siblings.
type Reconciler struct {
	log zerolog.Logger
}

func NewReconciler(log zerolog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Concepts converts a concept list: one concepts upsert per entry, one
// concept_names upsert per usable locale/name pair.  Pairs with an empty
// locale or a null name are skipped, since the name table's key cannot
// hold them.
func (r *Reconciler) Concepts(list ConceptList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Concepts {
		if entry.UUID == "" {
			r.log.Warn().Msg("concept with empty uuid skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableConcepts,
			Values: map[string]interface{}{
				"uuid":         entry.UUID,
				"xform_id":     entry.XformID,
				"concept_type": entry.Type,
			},
		})
		stats.Inserts++

		nameMuts, nameStats := r.localizedNames(records.TableConceptNames, "concept_uuid", entry.UUID, entry.Names)
		muts = append(muts, nameMuts...)
		stats = stats.Add(nameStats)
	}
	return muts, stats
}

// ChartStructure converts one chart's structure.  The chart's previous
// rows are deleted first, then one row is inserted per group and per
// concept within the group.  The weight counter increases strictly across
// the whole structure: a section row takes the counter's current value
// without consuming it, so item weights run 0..n-1 in display order.
func (r *Reconciler) ChartStructure(chart ChartStructure) ([]Mutation, Stats) {
	var stats Stats
	if chart.UUID == nil {
		r.log.Error().Msg("chart structure with null uuid skipped")
		stats.Skipped++
		return nil, stats
	}

	muts := []Mutation{{
		Op:     OpDelete,
		Table:  records.TableChartItems,
		Filter: map[string]interface{}{"chart_uuid": *chart.UUID},
	}}
	stats.Deletes++

	weight := 0
	rowid := int64(1)
	for _, group := range chart.Groups {
		if group.UUID == nil {
			r.log.Error().Str("chart_uuid", *chart.UUID).Msg("chart group with null uuid skipped")
			stats.Skipped++
			continue
		}
		sectionRowid := rowid
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableChartItems,
			Values: map[string]interface{}{
				"chart_uuid":    *chart.UUID,
				"rowid":         sectionRowid,
				"weight":        weight,
				"section_type":  sectionType(group),
				"parent_rowid":  nil,
				"label":         group.Label,
				"concept_uuids": *group.UUID,
			},
		})
		stats.Inserts++
		rowid++

		for _, conceptUUID := range group.ConceptUUIDs {
			muts = append(muts, Mutation{
				Op:    OpUpsert,
				Table: records.TableChartItems,
				Values: map[string]interface{}{
					"chart_uuid":    *chart.UUID,
					"rowid":         rowid,
					"weight":        weight,
					"parent_rowid":  sectionRowid,
					"concept_uuids": conceptUUID,
				},
			})
			stats.Inserts++
			rowid++
			weight++
		}
	}
	return muts, stats
}

func sectionType(group ChartGroup) string {
	if group.SectionType != nil {
		return *group.SectionType
	}
	return "GRID_SECTION"
}

// PatientChart converts a patient's encounters into observation upserts.
// Encounters with a null uuid or timestamp are skipped whole; encounter
// times are truncated to whole seconds.  Each upsert carries a synthetic
// server-side uuid derived from the encounter and concept, which marks the
// row as confirmed and keeps re-application idempotent.
func (r *Reconciler) PatientChart(chart PatientChart) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, enc := range chart.Encounters {
		if enc.UUID == nil {
			r.log.Error().Str("patient_uuid", chart.PatientUUID).Msg("encounter with null uuid skipped")
			stats.Skipped++
			continue
		}
		if enc.TimestampMillis == nil {
			r.log.Error().
				Str("patient_uuid", chart.PatientUUID).
				Str("encounter_uuid", *enc.UUID).
				Msg("encounter with null timestamp skipped")
			stats.Skipped++
			continue
		}
		seconds := *enc.TimestampMillis / 1000

		for _, conceptUUID := range sortedKeys(enc.Observations) {
			value := enc.Observations[conceptUUID]
			if value == nil {
				r.log.Warn().
					Str("encounter_uuid", *enc.UUID).
					Str("concept_uuid", conceptUUID).
					Msg("observation with null value skipped")
				stats.Skipped++
				continue
			}
			muts = append(muts, Mutation{
				Op:    OpUpsert,
				Table: records.TableObservations,
				Values: map[string]interface{}{
					"uuid":           *enc.UUID + "." + conceptUUID,
					"patient_uuid":   chart.PatientUUID,
					"encounter_uuid": *enc.UUID,
					"encounter_time": seconds,
					"concept_uuid":   conceptUUID,
					"enterer_uuid":   enc.EntererUUID,
					"value":          fmt.Sprint(value),
				},
			})
			stats.Inserts++
		}
	}
	return muts, stats
}

// Locations converts the location dump: the tree rows plus their
// localized names.
func (r *Reconciler) Locations(list LocationList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Locations {
		if entry.UUID == "" {
			r.log.Warn().Msg("location with empty uuid skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableLocations,
			Values: map[string]interface{}{
				"uuid":        entry.UUID,
				"parent_uuid": entry.ParentUUID,
			},
		})
		stats.Inserts++

		nameMuts, nameStats := r.localizedNames(records.TableLocationNames, "location_uuid", entry.UUID, entry.Names)
		muts = append(muts, nameMuts...)
		stats = stats.Add(nameStats)
	}
	return muts, stats
}

func (r *Reconciler) Patients(list PatientList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Patients {
		if entry.UUID == "" {
			r.log.Warn().Msg("patient with empty uuid skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TablePatients,
			Values: map[string]interface{}{
				"uuid":          entry.UUID,
				"id":            entry.ID,
				"given_name":    entry.GivenName,
				"family_name":   entry.FamilyName,
				"location_uuid": entry.LocationUUID,
				"birthdate":     entry.Birthdate,
				"gender":        entry.Gender,
			},
		})
		stats.Inserts++
	}
	return muts, stats
}

func (r *Reconciler) Users(list UserList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Users {
		if entry.UUID == "" {
			r.log.Warn().Msg("user with empty uuid skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableUsers,
			Values: map[string]interface{}{
				"uuid":      entry.UUID,
				"full_name": entry.FullName,
			},
		})
		stats.Inserts++
	}
	return muts, stats
}

func (r *Reconciler) Orders(list OrderList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Orders {
		if entry.UUID == "" || entry.PatientUUID == "" {
			r.log.Warn().Str("uuid", entry.UUID).Msg("order with missing uuid or patient skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableOrders,
			Values: map[string]interface{}{
				"uuid":         entry.UUID,
				"patient_uuid": entry.PatientUUID,
				"instructions": entry.Instructions,
				"start_millis": entry.StartMillis,
				"stop_millis":  entry.StopMillis,
			},
		})
		stats.Inserts++
	}
	return muts, stats
}

func (r *Reconciler) Forms(list FormList) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	for _, entry := range list.Forms {
		if entry.UUID == "" {
			r.log.Warn().Msg("form with empty uuid skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: records.TableForms,
			Values: map[string]interface{}{
				"uuid":    entry.UUID,
				"name":    entry.Name,
				"version": entry.Version,
			},
		})
		stats.Inserts++
	}
	return muts, stats
}

// localizedNames emits one name-table upsert per usable locale/name pair,
// in sorted locale order so batches are deterministic.
func (r *Reconciler) localizedNames(table, keyColumn, keyUUID string, names map[string]*string) ([]Mutation, Stats) {
	var muts []Mutation
	var stats Stats
	locales := make([]string, 0, len(names))
	for locale := range names {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	for _, locale := range locales {
		name := names[locale]
		if locale == "" || name == nil {
			r.log.Warn().Str(keyColumn, keyUUID).Str("locale", locale).Msg("name with null locale or value skipped")
			stats.Skipped++
			continue
		}
		muts = append(muts, Mutation{
			Op:    OpUpsert,
			Table: table,
			Values: map[string]interface{}{
				keyColumn: keyUUID,
				"locale":  locale,
				"name":    *name,
			},
		})
		stats.Inserts++
	}
	return muts, stats
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
