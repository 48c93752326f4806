// Package records defines the local datastore schema: the tables cached from
// the central clinical server plus the bookkeeping tables used by sync.
package records

import "github.com/projectbuendia/edge/internal/platform/db"

// SchemaVersion is bumped whenever any table definition below changes.  The
// datastore is a cache, so a version change drops and recreates every table
// and forces a full resync; no migration path is attempted.
const SchemaVersion = 5

// Table names in the local datastore.
const (
	TableLocations     = "locations"
	TableLocationNames = "location_names"
	TableConcepts      = "concepts"
	TableConceptNames  = "concept_names"
	TableForms         = "forms"
	TableChartItems    = "chart_items"
	TableObservations  = "observations"
	TableOrders        = "orders"
	TablePatients      = "patients"
	TableUsers         = "users"
	TableMisc          = "misc"
	TableSyncTokens    = "sync_tokens"
)

// Spec describes one table: its DDL and the key columns that insert
// conflicts resolve against (insert-with-replace semantics).
type Spec struct {
	Name string
	// Columns lists every column in the table, in schema order.
	Columns []string
	// Key lists the columns of the uniqueness constraint that upserts
	// resolve against.  Empty means plain inserts only.
	Key []string
	DDL string
}

// Specs lists every table in creation order.  Referenced tables come first
// so the DDL can be applied top to bottom.
var Specs = []Spec{
	{
		Name:    TableLocations,
		Columns: []string{"uuid", "parent_uuid"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE locations (
			uuid TEXT PRIMARY KEY,
			parent_uuid TEXT
		)`,
	},
	{
		Name:    TableLocationNames,
		Columns: []string{"id", "location_uuid", "locale", "name"},
		Key:     []string{"location_uuid", "locale"},
		DDL:     `CREATE TABLE location_names (
			id BIGSERIAL PRIMARY KEY,
			location_uuid TEXT NOT NULL REFERENCES locations (uuid) ON DELETE CASCADE,
			locale TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (location_uuid, locale)
		)`,
	},
	{
		Name:    TableConcepts,
		Columns: []string{"uuid", "xform_id", "concept_type"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE concepts (
			uuid TEXT PRIMARY KEY,
			xform_id TEXT,
			concept_type TEXT
		)`,
	},
	{
		Name:    TableConceptNames,
		Columns: []string{"id", "concept_uuid", "locale", "name"},
		Key:     []string{"concept_uuid", "locale"},
		DDL:     `CREATE TABLE concept_names (
			id BIGSERIAL PRIMARY KEY,
			concept_uuid TEXT NOT NULL,
			locale TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (concept_uuid, locale)
		)`,
	},
	{
		Name:    TableForms,
		Columns: []string{"uuid", "name", "version"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE forms (
			uuid TEXT PRIMARY KEY,
			name TEXT,
			version TEXT
		)`,
	},
	{
		Name:    TableChartItems,
		Columns: []string{"chart_uuid", "rowid", "weight", "section_type", "parent_rowid", "label", "type", "required", "concept_uuids", "format", "caption_format", "css_class", "css_style", "script"},
		Key:     []string{"chart_uuid", "rowid"},
		DDL:     `CREATE TABLE chart_items (
			chart_uuid TEXT NOT NULL,
			rowid BIGINT NOT NULL,
			weight INTEGER NOT NULL,
			section_type TEXT,
			parent_rowid BIGINT,
			label TEXT,
			type TEXT,
			required INTEGER NOT NULL DEFAULT 0,
			concept_uuids TEXT,
			format TEXT,
			caption_format TEXT,
			css_class TEXT,
			css_style TEXT,
			script TEXT,
			PRIMARY KEY (chart_uuid, rowid)
		)`,
	},
	{
		Name:    TableObservations,
		Columns: []string{"id", "uuid", "patient_uuid", "encounter_uuid", "encounter_time", "concept_uuid", "enterer_uuid", "value"},
		Key:     []string{"patient_uuid", "encounter_uuid", "concept_uuid"},
		DDL:     `CREATE TABLE observations (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT,
			patient_uuid TEXT NOT NULL,
			encounter_uuid TEXT NOT NULL,
			encounter_time BIGINT NOT NULL,
			concept_uuid TEXT NOT NULL,
			enterer_uuid TEXT,
			value TEXT,
			UNIQUE (patient_uuid, encounter_uuid, concept_uuid)
		)`,
	},
	{
		Name:    TableOrders,
		Columns: []string{"uuid", "patient_uuid", "instructions", "start_millis", "stop_millis"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE orders (
			uuid TEXT PRIMARY KEY,
			patient_uuid TEXT NOT NULL,
			instructions TEXT,
			start_millis BIGINT,
			stop_millis BIGINT
		)`,
	},
	{
		Name:    TablePatients,
		Columns: []string{"uuid", "id", "given_name", "family_name", "location_uuid", "birthdate", "gender"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE patients (
			uuid TEXT PRIMARY KEY,
			id TEXT,
			given_name TEXT,
			family_name TEXT,
			location_uuid TEXT,
			birthdate DATE,
			gender TEXT
		)`,
	},
	{
		Name:    TableUsers,
		Columns: []string{"uuid", "full_name"},
		Key:     []string{"uuid"},
		DDL:     `CREATE TABLE users (
			uuid TEXT PRIMARY KEY,
			full_name TEXT
		)`,
	},
	{
		// Single-row table for process-wide sync bookkeeping.
		Name:    TableMisc,
		Columns: []string{"id", "full_sync_start_millis", "full_sync_end_millis"},
		Key:     []string{"id"},
		DDL:     `CREATE TABLE misc (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			full_sync_start_millis BIGINT,
			full_sync_end_millis BIGINT
		)`,
	},
	{
		Name:    TableSyncTokens,
		Columns: []string{"table_name", "sync_token"},
		Key:     []string{"table_name"},
		DDL:     `CREATE TABLE sync_tokens (
			table_name TEXT PRIMARY KEY,
			sync_token TEXT NOT NULL
		)`,
	},
}

var specsByName = func() map[string]Spec {
	m := make(map[string]Spec, len(Specs))
	for _, s := range Specs {
		m[s.Name] = s
	}
	return m
}()

// SpecFor returns the table spec for name, and whether the table exists.
func SpecFor(name string) (Spec, bool) {
	s, ok := specsByName[name]
	return s, ok
}

// Schema returns the datastore schema in the form the platform layer applies.
func Schema() db.Schema {
	tables := make([]db.Table, 0, len(Specs))
	for _, s := range Specs {
		tables = append(tables, db.Table{Name: s.Name, DDL: s.DDL})
	}
	return db.Schema{Version: SchemaVersion, Tables: tables}
}
