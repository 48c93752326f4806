package sync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/projectbuendia/edge/internal/platform/auth"
)

// Datastore is the store surface the handler needs.  *Store implements
// it; tests substitute fakes.
type Datastore interface {
	Applier
	Status(ctx context.Context) (SyncStatus, error)
}

// Handler exposes push-style sync ingestion: the transport layer POSTs
// parsed server payloads and the handler converts and applies them in one
// transaction per request.  A configured Runner additionally enables
// pull-style full syncs.
type Handler struct {
	store  Datastore
	rec    *Reconciler
	runner *Runner

	// now is replaceable in tests.
	now func() time.Time
}

// NewHandler builds the sync HTTP surface.  runner may be nil when no
// upstream source is configured; the full-sync endpoint then reports 503.
func NewHandler(store Datastore, rec *Reconciler, runner *Runner) *Handler {
	return &Handler{store: store, rec: rec, runner: runner, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sync", auth.RequireRole("admin", "sync"))
	g.POST("/concepts", h.IngestConcepts)
	g.POST("/locations", h.IngestLocations)
	g.POST("/forms", h.IngestForms)
	g.POST("/users", h.IngestUsers)
	g.POST("/patients", h.IngestPatients)
	g.POST("/orders", h.IngestOrders)
	g.POST("/charts", h.IngestChartStructures)
	g.POST("/patients/:uuid/chart", h.IngestPatientChart)
	g.POST("/start", h.StartFullSync)
	g.POST("/finish", h.FinishFullSync)
	g.POST("/full", h.RunFullSync)
	g.GET("/status", h.Status)
}

func (h *Handler) IngestConcepts(c echo.Context) error {
	var list ConceptList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Concepts(list)
	return h.apply(c, muts, stats, "concepts", list.SyncToken)
}

func (h *Handler) IngestLocations(c echo.Context) error {
	var list LocationList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Locations(list)
	return h.apply(c, muts, stats, "locations", list.SyncToken)
}

func (h *Handler) IngestForms(c echo.Context) error {
	var list FormList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Forms(list)
	return h.apply(c, muts, stats, "forms", list.SyncToken)
}

func (h *Handler) IngestUsers(c echo.Context) error {
	var list UserList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Users(list)
	return h.apply(c, muts, stats, "users", list.SyncToken)
}

func (h *Handler) IngestPatients(c echo.Context) error {
	var list PatientList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Patients(list)
	return h.apply(c, muts, stats, "patients", list.SyncToken)
}

func (h *Handler) IngestOrders(c echo.Context) error {
	var list OrderList
	if err := c.Bind(&list); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	muts, stats := h.rec.Orders(list)
	return h.apply(c, muts, stats, "orders", list.SyncToken)
}

func (h *Handler) IngestChartStructures(c echo.Context) error {
	var charts []ChartStructure
	if err := c.Bind(&charts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var muts []Mutation
	var stats Stats
	for _, chart := range charts {
		m, s := h.rec.ChartStructure(chart)
		muts = append(muts, m...)
		stats = stats.Add(s)
	}
	return h.apply(c, muts, stats, "", "")
}

func (h *Handler) IngestPatientChart(c echo.Context) error {
	var chart PatientChart
	if err := c.Bind(&chart); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	chart.PatientUUID = c.Param("uuid")
	muts, stats := h.rec.PatientChart(chart)
	return h.apply(c, muts, stats, "", "")
}

// StartFullSync records the start of a push-driven full sync pass.  The
// pushing collaborator calls this before the first batch and Finish after
// the last; an interrupted pass leaves a start with no matching end.
func (h *Handler) StartFullSync(c echo.Context) error {
	millis := h.now().UnixMilli()
	if err := h.store.SetFullSyncStart(c.Request().Context(), millis); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"start_millis": millis})
}

// FinishFullSync closes a push-driven full sync pass: observations the
// server never acknowledged are discarded and the end marker is written.
func (h *Handler) FinishFullSync(c echo.Context) error {
	ctx := c.Request().Context()
	var discarded int64
	err := h.store.InTx(ctx, func(txCtx context.Context) error {
		var err error
		discarded, err = h.store.DeleteProvisionalObservations(txCtx)
		return err
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	millis := h.now().UnixMilli()
	if err := h.store.SetFullSyncEnd(ctx, millis); err != nil {
		if errors.Is(err, ErrNoSyncStart) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{
		"end_millis": millis,
		"discarded":  discarded,
	})
}

func (h *Handler) RunFullSync(c echo.Context) error {
	if h.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no upstream sync source configured")
	}
	stats, err := h.runner.RunFull(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Status(c echo.Context) error {
	status, err := h.store.Status(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

// apply lands a converted batch atomically and optionally advances the
// table's sync token with it.
func (h *Handler) apply(c echo.Context, muts []Mutation, stats Stats, table, token string) error {
	err := h.store.InTx(c.Request().Context(), func(ctx context.Context) error {
		if _, err := h.store.Apply(ctx, muts); err != nil {
			return err
		}
		if table != "" {
			return h.store.SetSyncToken(ctx, table, token)
		}
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
