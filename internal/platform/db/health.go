package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot reported by the health endpoint.
type PoolStats struct {
	Total int32 `json:"total"`
	Idle  int32 `json:"idle"`
	InUse int32 `json:"in_use"`
	Max   int32 `json:"max"`
}

// Healthy reports whether the pool holds at least one live connection.
func (s PoolStats) Healthy() bool {
	return s.Total > 0
}

func snapshot(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		Total: stat.TotalConns(),
		Idle:  stat.IdleConns(),
		InUse: stat.AcquiredConns(),
		Max:   stat.MaxConns(),
	}
}

// HealthHandler pings the database and reports the pool snapshot. A failed
// ping answers 503 so load balancers rotate the instance out.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "down",
				"error":  err.Error(),
				"pool":   snapshot(pool),
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "up",
			"pool":   snapshot(pool),
		})
	}
}
