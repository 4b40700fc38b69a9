package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/orders"
	"github.com/quickoh/relay/internal/utils"
)

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
}

type locationResponse struct {
	OrderID   string  `json:"orderId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	UpdatedAt int64   `json:"updatedAt"`
}

// HttpRes drops a nil data field, so this response spells the null out.
var locationUnavailable = struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data"`
}{"Location not available yet", http.StatusOK, nil}

func (h *Handler) CreateOrder(c echo.Context) error {
	// the body is the shipping address itself: {address, latitude, longitude}
	var address models.ShippingAddress
	if err := c.Bind(&address); err != nil {
		return c.JSON(utils.HttpResError("Invalid request body", http.StatusBadRequest))
	}
	order, err := h.orders.CreateOrder(c.Request().Context(), identity.FromEcho(c), address)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusCreated, "Order placed", order))
}

func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	order, err := h.orders.UpdateStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Order status updated", order))
}

func (h *Handler) AcceptListedOrder(c echo.Context) error {
	order, err := h.orders.Accept(c.Request().Context(), identity.FromEcho(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Order accepted", order))
}

func (h *Handler) CancelOrder(c echo.Context) error {
	order, err := h.orders.Cancel(c.Request().Context(), identity.FromEcho(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Order cancelled", order))
}

func (h *Handler) GetActiveOrders(c echo.Context) error {
	list, err := h.orders.ActiveOrders(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Active orders", list))
}

func (h *Handler) GetLiveOrderStatus(c echo.Context) error {
	id := c.Param("id")
	if !h.orders.CanJoinOrder(c.Request().Context(), identity.FromEcho(c), id) {
		return respondError(c, orders.ErrForbidden)
	}
	view, err := h.orders.LiveStatus(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Order status", view))
}

// LivePartnerLocation answers with null data when no position is known.
func (h *Handler) LivePartnerLocation(c echo.Context) error {
	id := c.Param("id")
	if !h.orders.CanJoinOrder(c.Request().Context(), identity.FromEcho(c), id) {
		return respondError(c, orders.ErrForbidden)
	}
	loc, err := h.orders.LiveLocation(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if loc == nil {
		return c.JSON(http.StatusOK, locationUnavailable)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Live delivery location", locationResponse{
		OrderID:   id,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		UpdatedAt: loc.UpdatedAt.UnixMilli(),
	}))
}
