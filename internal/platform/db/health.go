package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// HealthHandler reports whether the local store can serve requests.  The
// response includes the schema version currently applied, so operators
// can tell a pending drop-and-recreate apart from a ready store.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}

		version, err := CurrentVersion(ctx, pool)
		if err != nil {
			version = 0
		}

		stat := pool.Stat()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":         "healthy",
			"schema_version": version,
			"pool": map[string]interface{}{
				"total_conns":    stat.TotalConns(),
				"idle_conns":     stat.IdleConns(),
				"acquired_conns": stat.AcquiredConns(),
				"max_conns":      stat.MaxConns(),
			},
		})
	}
}
