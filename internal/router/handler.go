package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/projectbuendia/edge/internal/platform/auth"
	"github.com/projectbuendia/edge/internal/platform/db"
	"github.com/projectbuendia/edge/pkg/pagination"
)

// Handler exposes the delegate registry over HTTP.  Every resource hangs
// off one catch-all route; the registry does the real dispatch.
type Handler struct {
	registry *Registry
	pool     *pgxpool.Pool
}

func NewHandler(registry *Registry, pool *pgxpool.Pool) *Handler {
	return &Handler{registry: registry, pool: pool}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "clinician"))
	readGroup.GET("/data/*", h.QueryResource)

	writeGroup := api.Group("", auth.RequireRole("admin", "clinician"))
	writeGroup.POST("/data/*", h.InsertResource)
	writeGroup.PUT("/data/*", h.UpdateResource)
	writeGroup.DELETE("/data/*", h.DeleteResource)
}

// reserved query parameters that never become filter columns.
var reservedParams = map[string]bool{
	"columns": true, "order_by": true, "desc": true,
	"limit": true, "offset": true, "_count": true, "_offset": true,
}

func (h *Handler) QueryResource(c echo.Context) error {
	d, path, err := h.resolve(c)
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	opts := Query{Limit: pg.Limit, Offset: pg.Offset}
	opts.Projection = splitList(c.QueryParam("columns"))
	opts.OrderBy = c.QueryParam("order_by")
	opts.Desc = c.QueryParam("desc") == "true"
	for name, vals := range c.QueryParams() {
		if reservedParams[name] || len(vals) == 0 {
			continue
		}
		if opts.Filter == nil {
			opts.Filter = map[string]interface{}{}
		}
		opts.Filter[name] = vals[0]
	}

	rows, err := d.Query(c.Request().Context(), h.querier(c), path, opts)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentType, d.Type())
	body := map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	}
	// A full page may have more behind it; clients follow next_offset
	// until they get a short page.
	if len(rows) == pg.Limit {
		body["next_offset"] = pg.NextOffset()
	}
	return c.JSON(http.StatusOK, body)
}

// InsertResource accepts a JSON object for a single insert or a JSON array
// for a bulk insert.
func (h *Handler) InsertResource(c echo.Context) error {
	d, path, err := h.resolve(c)
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var batch []map[string]interface{}
	if err := json.Unmarshal(raw, &batch); err == nil {
		n, err := d.BulkInsert(c.Request().Context(), h.querier(c), path, batch)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusCreated, map[string]interface{}{"inserted": n})
	}

	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object or array")
	}
	if err := d.Insert(c.Request().Context(), h.querier(c), path, values); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"inserted": 1})
}

func (h *Handler) UpdateResource(c echo.Context) error {
	d, path, err := h.resolve(c)
	if err != nil {
		return err
	}
	var values map[string]interface{}
	if err := c.Bind(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := d.Update(c.Request().Context(), h.querier(c), path, values, h.filterParams(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"updated": n})
}

func (h *Handler) DeleteResource(c echo.Context) error {
	d, path, err := h.resolve(c)
	if err != nil {
		return err
	}
	n, err := d.Delete(c.Request().Context(), h.querier(c), path, h.filterParams(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": n})
}

func (h *Handler) resolve(c echo.Context) (Delegate, []string, error) {
	d, path, err := h.registry.Resolve(c.Param("*"))
	if err != nil {
		return nil, nil, httpError(err)
	}
	return d, path, nil
}

func (h *Handler) querier(c echo.Context) db.Querier {
	return db.QuerierFrom(c.Request().Context(), h.pool)
}

func (h *Handler) filterParams(c echo.Context) map[string]interface{} {
	var filter map[string]interface{}
	for name, vals := range c.QueryParams() {
		if reservedParams[name] || len(vals) == 0 {
			continue
		}
		if filter == nil {
			filter = map[string]interface{}{}
		}
		filter[name] = vals[0]
	}
	return filter
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNoDelegate):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrMalformedPath):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnsupported):
		return echo.NewHTTPError(http.StatusMethodNotAllowed, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
