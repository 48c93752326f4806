// Package sync turns parsed responses from the central clinical server into
// ordered mutation batches against the local datastore, applies them
// transactionally, and performs end-of-sync cleanup.
package sync

// ConceptList is the server's concept dump: every concept with its typed
// tag and a locale to name map.  Name map entries may carry null values.
type ConceptList struct {
	Concepts  []ConceptEntry `json:"concepts"`
	SyncToken string         `json:"sync_token"`
}

type ConceptEntry struct {
	UUID    string             `json:"uuid"`
	Type    *string            `json:"type"`
	XformID *string            `json:"xform_id"`
	Names   map[string]*string `json:"names"`
}

// ChartStructure is one chart's rendering structure: ordered groups, each
// an ordered list of concept UUIDs.
type ChartStructure struct {
	UUID   *string      `json:"uuid"`
	Groups []ChartGroup `json:"groups"`
}

type ChartGroup struct {
	UUID         *string  `json:"uuid"`
	Label        *string  `json:"label"`
	SectionType  *string  `json:"section_type"`
	ConceptUUIDs []string `json:"concept_uuids"`
}

// PatientChart is one patient's recorded encounters.
type PatientChart struct {
	PatientUUID string      `json:"patient_uuid"`
	Encounters  []Encounter `json:"encounters"`
}

// Encounter is one visit: a timestamp and a concept to value map.  UUID
// and Timestamp may be null in malformed server output; such encounters
// are skipped.
type Encounter struct {
	UUID *string `json:"uuid"`
	// TimestampMillis is the encounter time in milliseconds since epoch.
	TimestampMillis *int64                 `json:"timestamp_millis"`
	EntererUUID     *string                `json:"enterer_uuid"`
	Observations    map[string]interface{} `json:"observations"`
}

// LocationList is the server's location dump: the location tree plus
// localized names per location.
type LocationList struct {
	Locations []LocationEntry `json:"locations"`
	SyncToken string          `json:"sync_token"`
}

type LocationEntry struct {
	UUID       string             `json:"uuid"`
	ParentUUID *string            `json:"parent_uuid"`
	Names      map[string]*string `json:"names"`
}

type PatientList struct {
	Patients  []PatientEntry `json:"patients"`
	SyncToken string         `json:"sync_token"`
}

type PatientEntry struct {
	UUID         string  `json:"uuid"`
	ID           *string `json:"id"`
	GivenName    *string `json:"given_name"`
	FamilyName   *string `json:"family_name"`
	LocationUUID *string `json:"location_uuid"`
	Birthdate    *string `json:"birthdate"`
	Gender       *string `json:"gender"`
}

type UserList struct {
	Users     []UserEntry `json:"users"`
	SyncToken string      `json:"sync_token"`
}

type UserEntry struct {
	UUID     string  `json:"uuid"`
	FullName *string `json:"full_name"`
}

type OrderList struct {
	Orders    []OrderEntry `json:"orders"`
	SyncToken string       `json:"sync_token"`
}

type OrderEntry struct {
	UUID         string  `json:"uuid"`
	PatientUUID  string  `json:"patient_uuid"`
	Instructions *string `json:"instructions"`
	StartMillis  *int64  `json:"start_millis"`
	StopMillis   *int64  `json:"stop_millis"`
}

type FormList struct {
	Forms     []FormEntry `json:"forms"`
	SyncToken string      `json:"sync_token"`
}

type FormEntry struct {
	UUID    string  `json:"uuid"`
	Name    *string `json:"name"`
	Version *string `json:"version"`
}
