package app

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/identity"
	relay_middleware "github.com/quickoh/relay/internal/middleware"
	"github.com/quickoh/relay/internal/utils"
	"github.com/sirupsen/logrus"
)

// ConnectionsLimitMiddleware creates middleware for limiting concurrent connections
func ConnectionsLimitMiddleware(counter *relay_middleware.ConnectionsLimiter, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			release, err := counter.LeaseConnection(c.Request())
			if err != nil {
				return c.JSON(utils.HttpResError(err.Error(), http.StatusTooManyRequests))
			}
			defer release()
			return next(c)
		}
	}
}

// LogrusLoggerMiddleware writes the access log through logrus so it shares
// the format of every other relay log line.
func LogrusLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			err := next(c)

			stop := time.Now()

			fields := logrus.Fields{
				"remote_ip":  c.RealIP(),
				"host":       req.Host,
				"method":     req.Method,
				"uri":        req.RequestURI,
				"status":     res.Status,
				"latency":    stop.Sub(start).String(),
				"latency_ms": stop.Sub(start).Milliseconds(),
				"bytes_in":   req.Header.Get("Content-Length"),
				"bytes_out":  res.Size,
			}

			if ua := req.UserAgent(); ua != "" {
				fields["user_agent"] = ua
			}

			if referer := req.Referer(); referer != "" {
				fields["referer"] = referer
			}

			if id := req.Header.Get(echo.HeaderXRequestID); id != "" {
				fields["request_id"] = id
			}

			if caller := identity.FromEcho(c); !caller.IsZero() {
				fields["user_id"] = caller.UserID
			}

			logrus.WithFields(fields).Info()

			return err
		}
	}
}
