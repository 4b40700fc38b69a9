package ratelimit

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/utils"
)

const TooManyRequestsMessage = "Too many requests. Please slow down."

// KeyFunc picks the identifier a request is counted under.
type KeyFunc func(c echo.Context) string

// ByUser counts per authenticated caller.
func ByUser(c echo.Context) string {
	return identity.FromEcho(c).UserID
}

// ByIP counts per real client address.
func ByIP(extractor *utils.RealIPExtractor) KeyFunc {
	return func(c echo.Context) string {
		return extractor.Extract(c.Request())
	}
}

func Middleware(l *Limiter, action string, rule Rule, key KeyFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.AllowRule(c.Request().Context(), action, key(c), rule) {
				c.Set("error", ErrRateLimited)
				return c.JSON(utils.HttpResError(TooManyRequestsMessage, http.StatusTooManyRequests))
			}
			return next(c)
		}
	}
}
