package durable

import (
	"context"
	"sort"
	"sync"

	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/ntp"
	"golang.org/x/exp/slices"
)

// MemStore is the process-local Store used by default and in tests.
type MemStore struct {
	lock     sync.RWMutex
	partners map[string]models.Partner
	products map[string]models.Product
	orders   map[string]models.Order
	clock    ntp.TimeProvider
}

func NewMemStore(clock ntp.TimeProvider) *MemStore {
	if clock == nil {
		clock = ntp.NewLocalTimeProvider()
	}
	return &MemStore{
		partners: map[string]models.Partner{},
		products: map[string]models.Product{},
		orders:   map[string]models.Order{},
		clock:    clock,
	}
}

func (s *MemStore) PutPartner(p models.Partner) {
	s.lock.Lock()
	s.partners[p.ID] = p
	s.lock.Unlock()
}

func (s *MemStore) PutProduct(p models.Product) {
	s.lock.Lock()
	s.products[p.ID] = p
	s.lock.Unlock()
}

func (s *MemStore) AvailablePartners(ctx context.Context) ([]models.Partner, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make([]models.Partner, 0, len(s.partners))
	for _, p := range s.partners {
		if p.IsAvailable {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemStore) ProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}

func (s *MemStore) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Items = slices.Clone(order.Items)
	if order.PaymentStatus == "" {
		order.PaymentStatus = models.PaymentPending
	}
	s.orders[order.ID] = order
	return order, nil
}

func (s *MemStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, from ...models.OrderStatus) (models.Order, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, o.Status) {
		return o, ErrStatusMismatch
	}
	o.Status = status
	o.UpdatedAt = s.clock.Now().UTC()
	s.orders[id] = o
	return o, nil
}

func (s *MemStore) AssignPartner(ctx context.Context, id string, partnerID string) (models.Order, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	if o.Status != models.StatusPending {
		return o, ErrStatusMismatch
	}
	o.Status = models.StatusAssigned
	o.AssignedTo = partnerID
	o.UpdatedAt = s.clock.Now().UTC()
	s.orders[id] = o
	return o, nil
}

func (s *MemStore) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make([]models.Order, 0)
	for _, o := range s.orders {
		if o.Status.IsActive() {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemStore) HealthCheck() error {
	return nil
}

func (s *MemStore) Close() {}
