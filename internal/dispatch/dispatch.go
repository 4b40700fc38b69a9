// Package dispatch announces new orders to the delivery partners who can
// take them.
package dispatch

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quickoh/relay/internal/durable"
	"github.com/quickoh/relay/internal/models"
	"github.com/quickoh/relay/internal/relay"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const NewOrderMessage = "New order available for delivery"

var notifiedPartnersMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_dispatch_notified_partners",
	Help: "The total number of newOrder notifications emitted to partner rooms",
})

// Emitter is the broadcast side of the relay hub.
type Emitter interface {
	Emit(room relay.RoomID, event string, payload interface{}) int
}

type NewOrderNotification struct {
	Message         string                 `json:"message"`
	OrderID         string                 `json:"orderId"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	TotalAmount     decimal.Decimal        `json:"totalAmount"`
}

type Dispatcher struct {
	partners durable.PartnerDirectory
	emitter  Emitter
}

func New(partners durable.PartnerDirectory, emitter Emitter) *Dispatcher {
	return &Dispatcher{partners: partners, emitter: emitter}
}

// Dispatch emits newOrder to the personal room of every available partner
// and returns how many partners were targeted. Partners without a live
// connection simply miss it.
func (d *Dispatcher) Dispatch(ctx context.Context, order models.Order) (int, error) {
	log := log.WithFields(log.Fields{
		"prefix":   "Dispatcher.Dispatch",
		"order_id": order.ID,
	})

	partners, err := d.partners.AvailablePartners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list available partners: %w", err)
	}

	notification := NewOrderNotification{
		Message:         NewOrderMessage,
		OrderID:         order.ID,
		ShippingAddress: order.ShippingAddress,
		TotalAmount:     order.TotalAmount,
	}
	connected := 0
	for _, p := range partners {
		connected += d.emitter.Emit(relay.PartnerRoom(p.ID), relay.EventNewOrder, notification)
	}
	notifiedPartnersMetric.Add(float64(len(partners)))
	log.Debugf("notified %d partners, %d connections", len(partners), connected)
	return len(partners), nil
}
