package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/utils"
)

type addToCartRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"omitempty,gte=1"`
}

type cartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
}

type cartLineResponse struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

func (h *Handler) AddProductToCart(c echo.Context) error {
	var req addToCartRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	qty, err := h.carts.Add(c.Request().Context(), identity.FromEcho(c).UserID, req.ProductID, req.Quantity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Product added to cart", cartLineResponse{req.ProductID, qty}))
}

func (h *Handler) ReduceOneItem(c echo.Context) error {
	var req cartItemRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	qty, err := h.carts.Reduce(c.Request().Context(), identity.FromEcho(c).UserID, req.ProductID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Item reduced", cartLineResponse{req.ProductID, qty}))
}

// GetCartInfo prices the caller's cart. Delivery partners have no cart and
// get an empty 202.
func (h *Handler) GetCartInfo(c echo.Context) error {
	caller := identity.FromEcho(c)
	if caller.Is(models.RoleDeliveryPartner) {
		return c.NoContent(http.StatusAccepted)
	}
	info, err := h.carts.Info(c.Request().Context(), caller.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Cart fetched", info))
}

func (h *Handler) RemoveAnItemFromCart(c echo.Context) error {
	var req cartItemRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, err)
	}
	if err := h.carts.Remove(c.Request().Context(), identity.FromEcho(c).UserID, req.ProductID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Item removed from cart", nil))
}

func (h *Handler) ClearCart(c echo.Context) error {
	if err := h.carts.Clear(c.Request().Context(), identity.FromEcho(c).UserID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(utils.HttpResData(http.StatusOK, "Cart cleared", nil))
}
