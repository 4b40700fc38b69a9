// Package durable holds the long-lived records the relay consults: users
// acting as delivery partners, the product catalog and orders.
package durable

import (
	"context"
	"errors"
	"fmt"

	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/ntp"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrStatusMismatch = errors.New("order is not in the expected status")
)

type PartnerDirectory interface {
	// AvailablePartners lists delivery partners currently accepting orders.
	AvailablePartners(ctx context.Context) ([]models.Partner, error)
}

type ProductCatalog interface {
	// ProductsByIDs returns the known products among ids. Unknown ids are absent from the map.
	ProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order models.Order) (models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	// UpdateStatus moves the order to status. With from given, the move only
	// happens when the current status is one of them, otherwise ErrStatusMismatch.
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, from ...models.OrderStatus) (models.Order, error)
	// AssignPartner moves a Pending order to Assigned for partnerID.
	AssignPartner(ctx context.Context, id string, partnerID string) (models.Order, error)
	ActiveOrders(ctx context.Context) ([]models.Order, error)
}

type Store interface {
	PartnerDirectory
	ProductCatalog
	OrderRepository
	HealthCheck() error
	Close()
}

func NewStore(kind string, uri string, clock ntp.TimeProvider) (Store, error) {
	switch kind {
	case "postgres":
		return NewPgStore(uri)
	case "memory", "":
		return NewMemStore(clock), nil
	default:
		return nil, fmt.Errorf("unsupported durable storage type: %s", kind)
	}
}
