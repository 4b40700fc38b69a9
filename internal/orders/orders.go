// Package orders runs the order lifecycle and keeps the live status, live
// location and order room in step with the durable record.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/quickoh/relay/internal/dispatch"
	"github.com/quickoh/relay/internal/durable"
	"github.com/quickoh/relay/internal/ephemeral"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/relay"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound       = durable.ErrNotFound
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrForbidden      = errors.New("not allowed to act on this order")
	ErrConflict       = errors.New("order is no longer in a state that allows this")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrInvalidAddress = errors.New("shipping address is incomplete")
)

const (
	SourceLive    = "live"
	SourceDurable = "durable"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, order models.Order) (int, error)
}

type StatusView struct {
	OrderID   string             `json:"orderId"`
	Status    models.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Source    string             `json:"source"`
}

type Service struct {
	repo       durable.OrderRepository
	catalog    durable.ProductCatalog
	live       *ephemeral.Store
	dispatcher Dispatcher
	emitter    dispatch.Emitter
	validate   *validator.Validate
	newID      func() string
}

func NewService(repo durable.OrderRepository, catalog durable.ProductCatalog, live *ephemeral.Store, dispatcher Dispatcher, emitter dispatch.Emitter) *Service {
	return &Service{
		repo:       repo,
		catalog:    catalog,
		live:       live,
		dispatcher: dispatcher,
		emitter:    emitter,
		validate:   validator.New(),
		newID:      newOrderID,
	}
}

func newOrderID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// CreateOrder checks out the customer's cart. Prices are read from the
// catalog at this moment. Dispatch problems are logged and never undo the
// order.
func (s *Service) CreateOrder(ctx context.Context, customer identity.Identity, address models.ShippingAddress) (models.Order, error) {
	log := log.WithFields(log.Fields{
		"prefix":  "Service.CreateOrder",
		"user_id": customer.UserID,
	})

	if err := s.validate.Struct(address); err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	cart, err := s.live.GetCart(ctx, customer.UserID)
	if err != nil {
		return models.Order{}, err
	}
	if len(cart) == 0 {
		return models.Order{}, ErrEmptyCart
	}
	ids := make([]string, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products, err := s.catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]models.OrderItem, 0, len(ids))
	total := decimal.Zero
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			continue
		}
		qty := cart[id]
		unit := p.UnitPrice()
		items = append(items, models.OrderItem{
			ProductID: id,
			Name:      p.Name,
			Quantity:  qty,
			Price:     p.Price,
			Discount:  p.Discount,
		})
		total = total.Add(unit.Mul(decimal.NewFromInt(qty)))
	}
	if len(items) == 0 {
		return models.Order{}, fmt.Errorf("%w: no valid products", ErrEmptyCart)
	}

	order, err := s.repo.CreateOrder(ctx, models.Order{
		ID:              s.newID(),
		UserID:          customer.UserID,
		Items:           items,
		ShippingAddress: address,
		TotalAmount:     total.Round(2),
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentPending,
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	log = log.WithField("order_id", order.ID)

	if err := s.live.SetOrderStatus(ctx, order.ID, order.Status); err != nil {
		log.Errorf("failed to set live status: %v", err)
	}
	if err := s.live.ClearCart(ctx, customer.UserID); err != nil {
		log.Errorf("failed to clear cart: %v", err)
	}
	if _, err := s.dispatcher.Dispatch(ctx, order); err != nil {
		log.Errorf("dispatch failed: %v", err)
	}
	return order, nil
}

// UpdateStatus sets any valid status on an order.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (models.Order, error) {
	if !status.Valid() {
		return models.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	order, err := s.repo.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return models.Order{}, err
	}
	s.propagate(ctx, order)
	return order, nil
}

// Accept assigns a pending order to the calling delivery partner.
func (s *Service) Accept(ctx context.Context, partner identity.Identity, orderID string) (models.Order, error) {
	if !partner.Is(models.RoleDeliveryPartner) {
		return models.Order{}, ErrForbidden
	}
	order, err := s.repo.AssignPartner(ctx, orderID, partner.UserID)
	if errors.Is(err, durable.ErrStatusMismatch) {
		return order, fmt.Errorf("%w: order is %s", ErrConflict, order.Status)
	}
	if err != nil {
		return models.Order{}, err
	}
	s.propagate(ctx, order)
	return order, nil
}

// Cancel lets the owner or an admin cancel an order that is still pending.
func (s *Service) Cancel(ctx context.Context, caller identity.Identity, orderID string) (models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.UserID != caller.UserID && !caller.Is(models.RoleAdmin) {
		return models.Order{}, ErrForbidden
	}
	order, err = s.repo.UpdateStatus(ctx, orderID, models.StatusCancelled, models.StatusPending)
	if errors.Is(err, durable.ErrStatusMismatch) {
		return order, fmt.Errorf("%w: order is %s", ErrConflict, order.Status)
	}
	if err != nil {
		return models.Order{}, err
	}
	s.propagate(ctx, order)
	return order, nil
}

// propagate mirrors a persisted status into the live store and the order room.
func (s *Service) propagate(ctx context.Context, order models.Order) {
	log := log.WithFields(log.Fields{
		"prefix":   "Service.propagate",
		"order_id": order.ID,
	})
	if err := s.live.SetOrderStatus(ctx, order.ID, order.Status); err != nil {
		log.Errorf("failed to set live status: %v", err)
	}
	if order.Status.IsTerminal() {
		if err := s.live.ClearDeliveryLocation(ctx, order.ID); err != nil {
			log.Errorf("failed to clear live location: %v", err)
		}
	}
	s.emitter.Emit(relay.OrderRoom(order.ID), relay.EventOrderStatusUpdate, relay.StatusUpdate{
		OrderID: order.ID,
		Status:  order.Status,
	})
}

// LiveStatus prefers the live status and falls back to the durable order.
func (s *Service) LiveStatus(ctx context.Context, orderID string) (StatusView, error) {
	st, err := s.live.GetOrderStatus(ctx, orderID)
	if err == nil {
		return StatusView{OrderID: orderID, Status: st.Status, UpdatedAt: st.UpdatedAt, Source: SourceLive}, nil
	}
	if !errors.Is(err, ephemeral.ErrNotFound) {
		log.WithField("prefix", "Service.LiveStatus").Warnf("live status unreadable for %s: %v", orderID, err)
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{OrderID: orderID, Status: order.Status, UpdatedAt: order.UpdatedAt, Source: SourceDurable}, nil
}

// LiveLocation returns nil when no position is known.
func (s *Service) LiveLocation(ctx context.Context, orderID string) (*ephemeral.Location, error) {
	loc, err := s.live.GetDeliveryLocation(ctx, orderID)
	if errors.Is(err, ephemeral.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *Service) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	return s.repo.ActiveOrders(ctx)
}

// CanJoinOrder admits the order's customer, its assigned partner and admins.
func (s *Service) CanJoinOrder(ctx context.Context, caller identity.Identity, orderID string) bool {
	if caller.IsZero() {
		return false
	}
	if caller.Is(models.RoleAdmin) {
		return true
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return false
	}
	return order.UserID == caller.UserID || (order.AssignedTo != "" && order.AssignedTo == caller.UserID)
}
