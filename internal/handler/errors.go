package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/cart"
	"github.com/quickoh/relay/internal/durable"
	"github.com/quickoh/relay/internal/orders"
	"github.com/quickoh/relay/internal/ratelimit"
	"github.com/quickoh/relay/internal/utils"
	log "github.com/sirupsen/logrus"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "Invalid request: " + verrs.Error()
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, ratelimit.TooManyRequestsMessage
	case errors.Is(err, durable.ErrNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, cart.ErrProductNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, cart.ErrNotInCart):
		return http.StatusNotFound, "Product not in cart"
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden, "You are not allowed to perform this action"
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrInvalidAddress),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func respondError(c echo.Context, err error) error {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"prefix": "respondError",
			"uri":    c.Request().RequestURI,
		}).Errorf("request failed: %v", err)
	}
	return c.JSON(utils.HttpResError(msg, code))
}
