package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewServer builds the echo instance with every route mounted. db is pinged by
// /health?check=db and may be nil.
func NewServer(h *Handler, db *gorm.DB, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestID(logger))
	e.Use(Metrics)

	e.GET("/health", health(db, logger))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tenants := e.Group("/api/tenants")
	tenants.POST("", h.Register)
	tenants.GET("/:id/provisioning", h.Status)
	tenants.POST("/:id/provisioning/retry", h.Retry)
	tenants.POST("/:id/suspend", h.Suspend)
	tenants.POST("/:id/activate", h.Activate)
	tenants.DELETE("/:id", h.Delete)

	return e
}

func health(db *gorm.DB, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		response := map[string]interface{}{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		}
		if c.QueryParam("check") != "db" || db == nil {
			return c.JSON(http.StatusOK, response)
		}

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request().Context())
		}
		if err != nil {
			loggerFrom(c, logger).Error("database health check failed", zap.Error(err))
			response["status"] = "error"
			response["db_status"] = "error"
			return c.JSON(http.StatusServiceUnavailable, response)
		}
		response["db_status"] = "ok"
		return c.JSON(http.StatusOK, response)
	}
}
