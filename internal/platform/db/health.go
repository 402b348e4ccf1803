package db

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Checker is a database the health endpoint can ping.
type Checker interface {
	Ping(ctx context.Context) error
	Stats() interface{}
}

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// PoolChecker pings a pgx pool.
type PoolChecker struct{ Pool *pgxpool.Pool }

func (p PoolChecker) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }

func (p PoolChecker) Stats() interface{} {
	stat := p.Pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// SQLStats is the database/sql subset reported for SQLite.
type SQLStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// SQLChecker pings a database/sql handle.
type SQLChecker struct{ DB *sql.DB }

func (s SQLChecker) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s SQLChecker) Stats() interface{} {
	st := s.DB.Stats()
	return &SQLStats{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(check Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := check.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   check.Stats(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   check.Stats(),
		})
	}
}
