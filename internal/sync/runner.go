package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectbuendia/edge/internal/records"
)

// Source supplies parsed payloads from the central server.  Transport is
// someone else's problem; implementations hand back already decoded
// response objects.
type Source interface {
	Locations(ctx context.Context, syncToken string) (LocationList, error)
	Concepts(ctx context.Context, syncToken string) (ConceptList, error)
	Forms(ctx context.Context, syncToken string) (FormList, error)
	Users(ctx context.Context, syncToken string) (UserList, error)
	Patients(ctx context.Context, syncToken string) (PatientList, error)
	Orders(ctx context.Context, syncToken string) (OrderList, error)
	ChartStructures(ctx context.Context) ([]ChartStructure, error)
	PatientChart(ctx context.Context, patientUUID string) (PatientChart, error)
}

// Applier is the store surface the runner needs.  *Store implements it;
// tests substitute fakes.
type Applier interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Apply(ctx context.Context, muts []Mutation) (Stats, error)
	DeleteProvisionalObservations(ctx context.Context) (int64, error)
	SetFullSyncStart(ctx context.Context, millis int64) error
	SetFullSyncEnd(ctx context.Context, millis int64) error
	SyncToken(ctx context.Context, table string) (string, error)
	SetSyncToken(ctx context.Context, table, token string) error
	PatientUUIDs(ctx context.Context) ([]string, error)
}

// Runner orchestrates a full sync pass: reference data, chart structures,
// clinical data, then per-patient observations, all inside one outer
// transaction with a savepoint per stage.  The end marker is written only
// after everything committed.
type Runner struct {
	source Source
	store  Applier
	rec    *Reconciler
	log    zerolog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

func NewRunner(source Source, store Applier, rec *Reconciler, log zerolog.Logger) *Runner {
	return &Runner{source: source, store: store, rec: rec, log: log, now: time.Now}
}

// RunFull performs one full sync pass.  On any error the outer transaction
// rolls back, leaving the store exactly as it was before the pass, with
// only the start marker recording the interrupted attempt.
func (r *Runner) RunFull(ctx context.Context) (Stats, error) {
	start := r.now().UnixMilli()
	if err := r.store.SetFullSyncStart(ctx, start); err != nil {
		return Stats{}, err
	}
	r.log.Info().Int64("start_millis", start).Msg("full sync started")

	var total Stats
	err := r.store.InTx(ctx, func(txCtx context.Context) error {
		stages := []struct {
			name string
			run  func(context.Context) (Stats, error)
		}{
			{"reference", r.syncReference},
			{"charts", r.syncChartStructures},
			{"clinical", r.syncClinical},
			{"observations", r.syncObservations},
		}
		for _, stage := range stages {
			var stats Stats
			err := r.store.InTx(txCtx, func(stageCtx context.Context) error {
				var err error
				stats, err = stage.run(stageCtx)
				return err
			})
			if err != nil {
				return fmt.Errorf("sync stage %s: %w", stage.name, err)
			}
			r.log.Info().
				Str("stage", stage.name).
				Int("inserts", stats.Inserts).
				Int("deletes", stats.Deletes).
				Int("skipped", stats.Skipped).
				Msg("sync stage applied")
			total = total.Add(stats)
		}

		deleted, err := r.store.DeleteProvisionalObservations(txCtx)
		if err != nil {
			return err
		}
		if deleted > 0 {
			r.log.Warn().Int64("count", deleted).Msg("discarded observations the server never acknowledged")
		}
		total.Deletes += int(deleted)
		return nil
	})
	if err != nil {
		r.log.Error().Err(err).Msg("full sync failed, store rolled back")
		return total, err
	}

	end := r.now().UnixMilli()
	if err := r.store.SetFullSyncEnd(ctx, end); err != nil {
		return total, err
	}
	r.log.Info().
		Int64("end_millis", end).
		Int("inserts", total.Inserts).
		Int("deletes", total.Deletes).
		Int("skipped", total.Skipped).
		Msg("full sync completed")
	return total, nil
}

// syncReference refreshes the append-mostly reference tables: locations,
// concepts, forms, and users.
func (r *Runner) syncReference(ctx context.Context) (Stats, error) {
	var total Stats

	locations, err := r.fetchLocations(ctx)
	if err != nil {
		return total, err
	}
	muts, stats := r.rec.Locations(locations)
	total, err = r.applyWithToken(ctx, total.Add(stats), muts, records.TableLocations, locations.SyncToken)
	if err != nil {
		return total, err
	}

	concepts, err := r.fetchConcepts(ctx)
	if err != nil {
		return total, err
	}
	muts, stats = r.rec.Concepts(concepts)
	total, err = r.applyWithToken(ctx, total.Add(stats), muts, records.TableConcepts, concepts.SyncToken)
	if err != nil {
		return total, err
	}

	forms, err := r.fetchForms(ctx)
	if err != nil {
		return total, err
	}
	muts, stats = r.rec.Forms(forms)
	total, err = r.applyWithToken(ctx, total.Add(stats), muts, records.TableForms, forms.SyncToken)
	if err != nil {
		return total, err
	}

	users, err := r.fetchUsers(ctx)
	if err != nil {
		return total, err
	}
	muts, stats = r.rec.Users(users)
	return r.applyWithToken(ctx, total.Add(stats), muts, records.TableUsers, users.SyncToken)
}

func (r *Runner) syncChartStructures(ctx context.Context) (Stats, error) {
	var total Stats
	charts, err := r.source.ChartStructures(ctx)
	if err != nil {
		return total, err
	}
	for _, chart := range charts {
		muts, stats := r.rec.ChartStructure(chart)
		total = total.Add(stats)
		if _, err := r.store.Apply(ctx, muts); err != nil {
			return total, err
		}
	}
	return total, nil
}

// syncClinical refreshes the actively mutated clinical tables: patients
// and orders.
func (r *Runner) syncClinical(ctx context.Context) (Stats, error) {
	var total Stats

	token, err := r.store.SyncToken(ctx, records.TablePatients)
	if err != nil {
		return total, err
	}
	patients, err := r.source.Patients(ctx, token)
	if err != nil {
		return total, err
	}
	muts, stats := r.rec.Patients(patients)
	total, err = r.applyWithToken(ctx, total.Add(stats), muts, records.TablePatients, patients.SyncToken)
	if err != nil {
		return total, err
	}

	token, err = r.store.SyncToken(ctx, records.TableOrders)
	if err != nil {
		return total, err
	}
	orders, err := r.source.Orders(ctx, token)
	if err != nil {
		return total, err
	}
	muts, stats = r.rec.Orders(orders)
	return r.applyWithToken(ctx, total.Add(stats), muts, records.TableOrders, orders.SyncToken)
}

// syncObservations fetches each cached patient's chart and upserts its
// observations.
func (r *Runner) syncObservations(ctx context.Context) (Stats, error) {
	var total Stats
	patientUUIDs, err := r.store.PatientUUIDs(ctx)
	if err != nil {
		return total, err
	}
	for _, uuid := range patientUUIDs {
		chart, err := r.source.PatientChart(ctx, uuid)
		if err != nil {
			return total, fmt.Errorf("patient %s: %w", uuid, err)
		}
		muts, stats := r.rec.PatientChart(chart)
		total = total.Add(stats)
		if _, err := r.store.Apply(ctx, muts); err != nil {
			return total, fmt.Errorf("patient %s: %w", uuid, err)
		}
	}
	return total, nil
}

func (r *Runner) applyWithToken(ctx context.Context, total Stats, muts []Mutation, table, token string) (Stats, error) {
	if _, err := r.store.Apply(ctx, muts); err != nil {
		return total, err
	}
	return total, r.store.SetSyncToken(ctx, table, token)
}

func (r *Runner) fetchLocations(ctx context.Context) (LocationList, error) {
	token, err := r.store.SyncToken(ctx, records.TableLocations)
	if err != nil {
		return LocationList{}, err
	}
	return r.source.Locations(ctx, token)
}

func (r *Runner) fetchConcepts(ctx context.Context) (ConceptList, error) {
	token, err := r.store.SyncToken(ctx, records.TableConcepts)
	if err != nil {
		return ConceptList{}, err
	}
	return r.source.Concepts(ctx, token)
}

func (r *Runner) fetchForms(ctx context.Context) (FormList, error) {
	token, err := r.store.SyncToken(ctx, records.TableForms)
	if err != nil {
		return FormList{}, err
	}
	return r.source.Forms(ctx, token)
}

func (r *Runner) fetchUsers(ctx context.Context) (UserList, error) {
	token, err := r.store.SyncToken(ctx, records.TableUsers)
	if err != nil {
		return UserList{}, err
	}
	return r.source.Users(ctx, token)
}
