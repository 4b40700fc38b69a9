package handler

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// ParseOrGenerateTraceID keeps a valid incoming UUID and otherwise mints a v7.
func ParseOrGenerateTraceID(raw string) string {
	if raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id.String()
		}
		logrus.WithFields(logrus.Fields{
			"prefix":           "ParseOrGenerateTraceID",
			"invalid_trace_id": raw,
		}).Debug("generating a new trace id")
	}
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// TraceMiddleware makes sure every request and response carries X-Request-ID.
func TraceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ParseOrGenerateTraceID(c.Request().Header.Get(echo.HeaderXRequestID))
			c.Request().Header.Set(echo.HeaderXRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}
