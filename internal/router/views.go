package router

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/projectbuendia/edge/internal/platform/db"
)

// viewDelegate is a read-only delegate over a fixed SQL statement.  The
// path's wildcard segments become the statement's positional arguments.
// Views define their own row shape, so projections and filters are not
// accepted.
type viewDelegate struct {
	readOnly
	typ      string
	segments int
	// build turns the matched path into the statement and its arguments.
	build func(path []string) (string, []interface{})
}

func (d *viewDelegate) Type() string { return d.typ }

func (d *viewDelegate) Query(ctx context.Context, q db.Querier, path []string, opts Query) ([]map[string]interface{}, error) {
	if len(path) != d.segments {
		return nil, fmt.Errorf("%w: path %q must have %d segments", ErrMalformedPath, joinPath(path), d.segments)
	}
	if len(opts.Projection) > 0 || len(opts.Filter) > 0 || opts.OrderBy != "" {
		return nil, fmt.Errorf("%w: view %q defines its own row shape and ordering", ErrUnsupported, path[0])
	}
	sql, args := d.build(path)
	if opts.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query view %s: %w", path[0], err)
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

// NewLocalizedLocationsDelegate serves localized-locations/<locale>: every
// location that has a name in the requested locale.  Locations without a
// name in that locale are omitted; a row with no display name cannot be
// rendered.
func NewLocalizedLocationsDelegate() Delegate {
	return &viewDelegate{
		typ:      GroupType("localized-locations"),
		segments: 2,
		build: func(path []string) (string, []interface{}) {
			sql := `SELECT l.uuid, l.parent_uuid, ln.name
				FROM locations l
				JOIN location_names ln
				  ON ln.location_uuid = l.uuid AND ln.locale = $1
				ORDER BY l.uuid`
			return sql, []interface{}{path[1]}
		},
	}
}

// NewLocalizedChartsDelegate serves
// localized-charts/<patient>/<locale>/<chart>: the chart's rows in display
// order, each with its concept name in the requested locale and the
// patient's observations for that concept.  Section rows and rows the
// patient has no observation for carry NULL observation columns.
func NewLocalizedChartsDelegate() Delegate {
	return &viewDelegate{
		typ:      GroupType("localized-charts"),
		segments: 4,
		build: func(path []string) (string, []interface{}) {
			patient, locale, chart := path[1], path[2], path[3]
			// concept_uuids is a comma separated list; the first entry
			// is the row's primary concept.
			sql := `SELECT ci.rowid, ci.weight, ci.section_type, ci.parent_rowid,
				       ci.label, ci.type, ci.required, ci.concept_uuids,
				       ci.format, ci.caption_format, ci.css_class, ci.css_style,
				       ci.script,
				       cn.name AS concept_name,
				       o.encounter_uuid, o.encounter_time, o.value, o.enterer_uuid
				FROM chart_items ci
				LEFT JOIN concept_names cn
				  ON cn.concept_uuid = split_part(ci.concept_uuids, ',', 1)
				 AND cn.locale = $2
				LEFT JOIN observations o
				  ON o.concept_uuid = split_part(ci.concept_uuids, ',', 1)
				 AND o.patient_uuid = $3
				WHERE ci.chart_uuid = $1
				ORDER BY ci.weight, o.encounter_time, o.id`
			return sql, []interface{}{chart, locale, patient}
		},
	}
}

// NewMostRecentLocalizedChartsDelegate serves
// most-recent-localized-charts/<patient>/<locale>: the latest observation
// per concept for the patient.  At equal encounter times the row inserted
// last wins.
func NewMostRecentLocalizedChartsDelegate() Delegate {
	return &viewDelegate{
		typ:      GroupType("most-recent-localized-charts"),
		segments: 3,
		build: func(path []string) (string, []interface{}) {
			patient, locale := path[1], path[2]
			sql := `SELECT DISTINCT ON (o.concept_uuid)
				       o.concept_uuid, o.encounter_uuid, o.encounter_time,
				       o.value, o.enterer_uuid,
				       c.concept_type, cn.name AS concept_name
				FROM observations o
				LEFT JOIN concepts c ON c.uuid = o.concept_uuid
				LEFT JOIN concept_names cn
				  ON cn.concept_uuid = o.concept_uuid AND cn.locale = $2
				WHERE o.patient_uuid = $1
				ORDER BY o.concept_uuid, o.encounter_time DESC, o.id DESC`
			return sql, []interface{}{patient, locale}
		},
	}
}

// NewPatientCountsDelegate serves patient-counts: the number of patients
// directly assigned to each location.  Counts are not recursive; a patient
// in a child location counts only toward that child.
func NewPatientCountsDelegate() Delegate {
	return &viewDelegate{
		typ:      GroupType("patient-counts"),
		segments: 1,
		build: func(path []string) (string, []interface{}) {
			sql := `SELECT location_uuid, COUNT(*) AS patient_count
				FROM patients
				WHERE location_uuid IS NOT NULL
				GROUP BY location_uuid
				ORDER BY location_uuid`
			return sql, nil
		},
	}
}
