// Package identity carries the caller resolved by the upstream auth gateway.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/utils"
	"golang.org/x/exp/slices"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"

	contextKey = "identity"
)

type Identity struct {
	UserID string
	Role   models.Role
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}

func (i Identity) Is(roles ...models.Role) bool {
	return slices.Contains(roles, i.Role)
}

// Authenticator resolves the caller of a request. A zero Identity means anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) Identity
}

// HeaderAuthenticator trusts identity headers set by the gateway in front of
// the service.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) Identity {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return Identity{}
	}
	role := models.Role(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
	if !role.Valid() {
		role = models.RoleCustomer
	}
	return Identity{UserID: id, Role: role}
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKey{}).(Identity)
	return id
}

// FromEcho returns the identity stored by Authenticate.
func FromEcho(c echo.Context) Identity {
	id, _ := c.Get(contextKey).(Identity)
	return id
}

// Authenticate resolves the caller and stores it on the echo and request
// contexts. Anonymous requests pass through.
func Authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := auth.Authenticate(c.Request())
			if !id.IsZero() {
				c.Set(contextKey, id)
				c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			}
			return next(c)
		}
	}
}

func Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if FromEcho(c).IsZero() {
				return c.JSON(utils.HttpResError("Unauthorized", http.StatusUnauthorized))
			}
			return next(c)
		}
	}
}

func RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := FromEcho(c)
			if id.IsZero() {
				return c.JSON(utils.HttpResError("Unauthorized", http.StatusUnauthorized))
			}
			if !id.Is(roles...) {
				return c.JSON(utils.HttpResError("Forbidden", http.StatusForbidden))
			}
			return next(c)
		}
	}
}
