package api

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/metrics"
)

const loggerKey = "logger"

// RequestID tags each request and its logger with a request id.
func RequestID(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)
			c.Set(loggerKey, base.With(zap.String("request_id", requestID)))
			return next(c)
		}
	}
}

// Metrics counts requests by route and status.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// let echo write the error so the recorded status is the one sent
			c.Error(err)
		}

		status := strconv.Itoa(c.Response().Status)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, c.Path(), status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, c.Path()).Observe(time.Since(start).Seconds())
		return nil
	}
}

func loggerFrom(c echo.Context, fallback *zap.Logger) *zap.Logger {
	if log, ok := c.Get(loggerKey).(*zap.Logger); ok {
		return log
	}
	return fallback
}
