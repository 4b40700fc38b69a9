// Package ephemeral holds fast-changing, auto-expiring state: carts, live
// order status and live delivery location. Key layout is private to this
// package.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/ntp"
	"github.com/quickoh/relay/internal/storage"
	log "github.com/sirupsen/logrus"
)

const DefaultTTL = 24 * time.Hour

var ErrNotFound = storage.ErrNotFound

var degradedOpsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_ephemeral_degraded_operations",
	Help: "The total number of ephemeral store operations skipped because the backend was unavailable",
}, []string{"op"})

// Cart maps productId to a quantity that is always at least 1.
type Cart map[string]int64

type LiveStatus struct {
	Status    models.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	backend storage.Backend
	clock   ntp.TimeProvider
	ttl     time.Duration
}

func NewStore(backend storage.Backend, clock ntp.TimeProvider, ttl time.Duration) *Store {
	if clock == nil {
		clock = ntp.NewLocalTimeProvider()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, clock: clock, ttl: ttl}
}

func cartKey(customerID string) string  { return "cart:" + customerID }
func statusKey(orderID string) string   { return "order:status:" + orderID }
func locationKey(orderID string) string { return "delivery:location:" + orderID }

// degrade turns an unavailable backend into a logged no-op. Any other error
// is returned unchanged.
func (s *Store) degrade(op string, err error) error {
	if err == nil || !errors.Is(err, storage.ErrUnavailable) {
		return err
	}
	degradedOpsMetric.WithLabelValues(op).Inc()
	log.WithFields(log.Fields{
		"prefix": "Store.degrade",
		"op":     op,
	}).Warnf("ephemeral store degraded: %v", err)
	return nil
}

// SetCart adjusts the quantity of one product and returns the new quantity.
// A quantity at or below zero removes the product. The whole cart expiry is
// refreshed.
func (s *Store) SetCart(ctx context.Context, customerID, productID string, delta int64) (int64, error) {
	qty, err := s.backend.HIncrBy(ctx, cartKey(customerID), productID, delta, s.ttl)
	if err = s.degrade("set_cart", err); err != nil {
		return 0, fmt.Errorf("failed to update cart: %w", err)
	}
	if qty < 0 {
		qty = 0
	}
	return qty, nil
}

func (s *Store) GetCart(ctx context.Context, customerID string) (Cart, error) {
	fields, err := s.backend.HGetAll(ctx, cartKey(customerID))
	if err = s.degrade("get_cart", err); err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	cart := make(Cart, len(fields))
	for productID, raw := range fields {
		qty, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || qty < 1 {
			continue
		}
		cart[productID] = qty
	}
	return cart, nil
}

func (s *Store) RemoveCartItem(ctx context.Context, customerID, productID string) error {
	err := s.backend.HDel(ctx, cartKey(customerID), s.ttl, productID)
	if err = s.degrade("remove_cart_item", err); err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, customerID string) error {
	err := s.backend.Del(ctx, cartKey(customerID))
	if err = s.degrade("clear_cart", err); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// SetOrderStatus records the live status. Terminal statuses delete the
// record so readers fall back to the durable order.
func (s *Store) SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	if status.IsTerminal() {
		return s.ClearOrderStatus(ctx, orderID)
	}
	data, err := sonic.Marshal(LiveStatus{Status: status, UpdatedAt: s.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal order status: %w", err)
	}
	err = s.backend.Set(ctx, statusKey(orderID), data, s.ttl)
	if err = s.degrade("set_order_status", err); err != nil {
		return fmt.Errorf("failed to set order status: %w", err)
	}
	return nil
}

func (s *Store) GetOrderStatus(ctx context.Context, orderID string) (LiveStatus, error) {
	data, err := s.backend.Get(ctx, statusKey(orderID))
	if errors.Is(err, storage.ErrUnavailable) {
		_ = s.degrade("get_order_status", err)
		return LiveStatus{}, ErrNotFound
	}
	if err != nil {
		return LiveStatus{}, err
	}
	var st LiveStatus
	if err := sonic.Unmarshal(data, &st); err != nil {
		return LiveStatus{}, fmt.Errorf("failed to unmarshal order status: %w", err)
	}
	return st, nil
}

func (s *Store) ClearOrderStatus(ctx context.Context, orderID string) error {
	err := s.backend.Del(ctx, statusKey(orderID))
	if err = s.degrade("clear_order_status", err); err != nil {
		return fmt.Errorf("failed to clear order status: %w", err)
	}
	return nil
}

// SetDeliveryLocation overwrites the last known position of the order's partner.
func (s *Store) SetDeliveryLocation(ctx context.Context, orderID string, lat, lng float64) error {
	fields := map[string]string{
		"lat":       strconv.FormatFloat(lat, 'f', -1, 64),
		"lng":       strconv.FormatFloat(lng, 'f', -1, 64),
		"updatedAt": strconv.FormatInt(s.clock.NowUnixMilli(), 10),
	}
	err := s.backend.HSet(ctx, locationKey(orderID), fields, s.ttl)
	if err = s.degrade("set_delivery_location", err); err != nil {
		return fmt.Errorf("failed to set delivery location: %w", err)
	}
	return nil
}

func (s *Store) GetDeliveryLocation(ctx context.Context, orderID string) (Location, error) {
	fields, err := s.backend.HGetAll(ctx, locationKey(orderID))
	if errors.Is(err, storage.ErrUnavailable) {
		_ = s.degrade("get_delivery_location", err)
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, err
	}
	if len(fields) == 0 {
		return Location{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q: %w", fields["lat"], err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q: %w", fields["lng"], err)
	}
	updatedAt, _ := strconv.ParseInt(fields["updatedAt"], 10, 64)
	return Location{
		Latitude:  lat,
		Longitude: lng,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *Store) ClearDeliveryLocation(ctx context.Context, orderID string) error {
	err := s.backend.Del(ctx, locationKey(orderID))
	if err = s.degrade("clear_delivery_location", err); err != nil {
		return fmt.Errorf("failed to clear delivery location: %w", err)
	}
	return nil
}

func (s *Store) HealthCheck() error {
	return s.backend.HealthCheck()
}
