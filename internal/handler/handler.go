// Package handler serves the REST surface under /api/v1.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/cart"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/orders"
	"github.com/quickoh/relay/internal/ratelimit"
	"github.com/quickoh/relay/internal/utils"
)

const (
	ActionCartAdd     = "cart-add"
	ActionOrderCreate = "order-create"
)

type Rules struct {
	CartAdd     ratelimit.Rule
	OrderCreate ratelimit.Rule
}

type Handler struct {
	carts   *cart.Service
	orders  *orders.Service
	limiter *ratelimit.Limiter
	rules   Rules
}

func New(carts *cart.Service, orders *orders.Service, limiter *ratelimit.Limiter, rules Rules) *Handler {
	return &Handler{
		carts:   carts,
		orders:  orders,
		limiter: limiter,
		rules:   rules,
	}
}

// Register mounts the cart and order routes. The group is expected to run
// identity.Authenticate already.
func (h *Handler) Register(g *echo.Group) {
	c := g.Group("/cart", identity.Require())
	c.POST("/addProductToCart", h.AddProductToCart,
		ratelimit.Middleware(h.limiter, ActionCartAdd, h.rules.CartAdd, ratelimit.ByUser))
	c.POST("/reduceOneItem", h.ReduceOneItem)
	c.GET("/getCartInfo", h.GetCartInfo)
	c.POST("/removeAnItemFromCart", h.RemoveAnItemFromCart)
	c.DELETE("/clearCart", h.ClearCart)

	o := g.Group("/order", identity.Require())
	o.POST("/createOrder", h.CreateOrder,
		ratelimit.Middleware(h.limiter, ActionOrderCreate, h.rules.OrderCreate, ratelimit.ByUser))
	o.POST("/updateOrderStatus/:id", h.UpdateOrderStatus, identity.RequireRole(models.RoleAdmin))
	o.PUT("/acceptListedOrder/:id", h.AcceptListedOrder)
	o.PUT("/cancelOrder/:id", h.CancelOrder)
	o.GET("/getActiveOrders", h.GetActiveOrders, identity.RequireRole(models.RoleDeliveryPartner, models.RoleAdmin))
	o.GET("/getLiveOrderStatus/:id", h.GetLiveOrderStatus)
	o.GET("/livePartnerLocation/:id", h.LivePartnerLocation)
}

// bind decodes and validates the request body.
func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return c.Validate(dst)
}

func badRequest(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		return c.JSON(utils.HttpResError(msg, he.Code))
	}
	return respondError(c, err)
}
